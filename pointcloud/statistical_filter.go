package pointcloud

import (
	"context"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/godel-robotics/surfacedetection/utils"
)

// StatisticalOutlierFilter removes every point whose mean distance to its meanK nearest
// neighbors is greater than mean + stdevThresh*stdev, where mean and stdev are computed over
// the mean distances of the whole cloud. It returns the filtered cloud and the indices of the
// kept points.
func StatisticalOutlierFilter(ctx context.Context, cloud *PointCloud, meanK int, stdevThresh float64) (*PointCloud, []int, error) {
	if meanK <= 0 {
		return nil, nil, errors.Errorf("statistical filter neighbor count must be positive, got %d", meanK)
	}
	if cloud.Size() < meanK+1 {
		return nil, nil, NewInsufficientDataError("statistical filter", cloud.Size(), meanK+1)
	}
	kd := ToKDTree(cloud)
	avgDistances := make([]float64, cloud.Size())
	err := utils.ParallelForEach(ctx, cloud.Size(), func(i int) {
		nbs := kd.KNearestNeighborsOf(i, meanK)
		sum := 0.
		for _, nb := range nbs {
			sum += nb.Distance
		}
		avgDistances[i] = sum / float64(len(nbs))
	})
	if err != nil {
		return nil, nil, err
	}

	mean, err := stats.Mean(avgDistances)
	if err != nil {
		return nil, nil, errors.Wrap(err, "statistical filter mean")
	}
	stdev, err := stats.StandardDeviationSample(avgDistances)
	if err != nil {
		return nil, nil, errors.Wrap(err, "statistical filter stdev")
	}
	threshold := mean + stdevThresh*stdev

	out := NewWithPrealloc(cloud.Size())
	kept := make([]int, 0, cloud.Size())
	for i, d := range avgDistances {
		if d <= threshold {
			out.Append(cloud.At(i))
			kept = append(kept, i)
		}
	}
	return out, kept, nil
}
