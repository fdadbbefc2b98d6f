package metrics

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
)

const (
	// TimeseriesNamespace holds one hash of buckets per series.
	TimeseriesNamespace = "timeseries_stats"
	// HoursToKeep is how much history a series retains.
	HoursToKeep = 12

	RangeMinute = time.Minute
	Range10Min  = 10 * time.Minute
	RangeHour   = time.Hour

	bucketLayout = "2006-01-02T15:04:05"
)

// Timeseries counts events in fixed UTC time buckets. Bucket names are
// ISO timestamps, so sorting them sorts by time.
type Timeseries struct {
	cache  *cache.Client
	name   string
	bucket time.Duration
	keep   int
	now    func() time.Time
}

// NewTimeseries returns the series name with buckets of the given length,
// which must divide an hour.
func NewTimeseries(c *cache.Client, name string, bucket time.Duration) (*Timeseries, error) {
	if c == nil || name == "" {
		return nil, ErrNotInitialized
	}
	if bucket < time.Minute || bucket > time.Hour || time.Hour%bucket != 0 {
		return nil, errors.Newf("metrics: bucket %s must be whole minutes dividing an hour", bucket)
	}
	return &Timeseries{
		cache:  c,
		name:   name,
		bucket: bucket,
		keep:   int(HoursToKeep * time.Hour / bucket),
		now:    time.Now,
	}, nil
}

// BucketStart returns the name of the bucket t falls into.
func (ts *Timeseries) BucketStart(t time.Time) string {
	return t.UTC().Truncate(ts.bucket).Format(bucketLayout)
}

// Increment adds amount to the current bucket and drops buckets older than
// the retention.
func (ts *Timeseries) Increment(ctx context.Context, amount int64) (int64, error) {
	ns := cache.Namespace(TimeseriesNamespace)
	n, err := ts.cache.HashIncrement(ctx, ts.name, ts.BucketStart(ts.now()), amount, ns)
	if err != nil {
		return 0, errors.Wrapf(err, "metrics: increment series %q", ts.name)
	}
	buckets, err := ts.cache.HashKeys(ctx, ts.name, ns)
	if err != nil {
		return 0, errors.Wrapf(err, "metrics: list buckets of %q", ts.name)
	}
	if len(buckets) > ts.keep {
		sort.Strings(buckets)
		if _, err := ts.cache.HashDelete(ctx, ts.name, buckets[:len(buckets)-ts.keep], ns); err != nil {
			return 0, errors.Wrapf(err, "metrics: prune series %q", ts.name)
		}
	}
	return n, nil
}

// Bucket is the count of one time bucket.
type Bucket struct {
	Start string `json:"start" yaml:"start"`
	Count int64  `json:"count" yaml:"count"`
}

// Stats returns every retained bucket, oldest first.
func (ts *Timeseries) Stats(ctx context.Context) ([]Bucket, error) {
	fields, err := ts.cache.HashGetAll(ctx, ts.name, cache.Namespace(TimeseriesNamespace))
	if err != nil {
		return nil, errors.Wrapf(err, "metrics: read series %q", ts.name)
	}
	out := make([]Bucket, 0, len(fields))
	for start, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(cache.ErrNotInteger, "metrics: bucket %s of %q holds %q", start, ts.name, v)
		}
		out = append(out, Bucket{Start: start, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
