package main

import (
	"bufio"
	"context"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/handler"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxLineSize   = 1 << 20
)

// Creator stores one coupon definition.
type Creator interface {
	Create(ctx context.Context, c coupon.Coupon) (*coupon.Coupon, error)
}

type ingester struct {
	lg    *zap.Logger
	files []string

	filters []*bloom.BloomFilter
	// candidates holds codes that may appear in more than one file.
	candidates map[string]struct{}
}

type loadStats struct {
	created    int
	duplicates int
	invalid    int
}

// plan builds one bloom filter per file, then collects the codes that test
// positive against another file's filter. Both passes run per file
// concurrently.
func (ing *ingester) plan(ctx context.Context) error {
	ing.filters = make([]*bloom.BloomFilter, len(ing.files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range ing.files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var n int
			if err := streamDefinitions(gctx, path, func(c coupon.Coupon) {
				filter.AddString(c.Code)
				n++
			}, nil); err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			ing.filters[i] = filter
			ing.lg.Info("Indexed file", zap.String("file", path), zap.Int("definitions", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	found := make([]map[string]struct{}, len(ing.files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range ing.files {
		g.Go(func() error {
			local := make(map[string]struct{})
			if err := streamDefinitions(gctx, path, func(c coupon.Coupon) {
				for j, f := range ing.filters {
					if j != i && f.TestString(c.Code) {
						local[c.Code] = struct{}{}
						return
					}
				}
			}, nil); err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			found[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ing.candidates = make(map[string]struct{})
	for _, m := range found {
		for code := range m {
			ing.candidates[code] = struct{}{}
		}
	}
	ing.lg.Info("Cross-file duplicate candidates", zap.Int("count", len(ing.candidates)))
	return nil
}

// load creates the definitions file by file in order. Candidate codes are
// confirmed exactly; a code already stored is skipped as a duplicate.
func (ing *ingester) load(ctx context.Context, store Creator) (loadStats, error) {
	var stats loadStats
	claimed := make(map[string]string, len(ing.candidates))

	for _, path := range ing.files {
		var loadErr error
		err := streamDefinitions(ctx, path, func(c coupon.Coupon) {
			if loadErr != nil {
				return
			}
			if _, ok := ing.candidates[c.Code]; ok {
				if first, dup := claimed[c.Code]; dup {
					ing.lg.Debug("Skipping duplicate code",
						zap.String("code", c.Code),
						zap.String("file", path),
						zap.String("first_file", first),
					)
					stats.duplicates++
					return
				}
				claimed[c.Code] = path
			}

			_, err := store.Create(ctx, c)
			switch {
			case err == nil:
				stats.created++
			case errors.Is(err, coupon.ErrCodeTaken):
				stats.duplicates++
			case errors.Is(err, coupon.ErrInputInvalid):
				ing.lg.Warn("Invalid definition", zap.String("code", c.Code), zap.Error(err))
				stats.invalid++
			default:
				loadErr = errors.Wrapf(err, "create %s", c.Code)
			}
		}, func(line int, err error) {
			ing.lg.Warn("Unparsable line", zap.String("file", path), zap.Int("line", line), zap.Error(err))
			stats.invalid++
		})
		if err != nil {
			return stats, errors.Wrapf(err, "load %s", path)
		}
		if loadErr != nil {
			return stats, loadErr
		}
	}
	return stats, nil
}

// streamDefinitions calls fn with each decoded definition of a gzip JSONL
// file, with the code normalized. Lines that fail to decode go to bad, if set.
func streamDefinitions(ctx context.Context, path string, fn func(coupon.Coupon), bad func(line int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		c, err := handler.DecodeCoupon(jx.DecodeBytes(data))
		if err == nil && c.Code == "" {
			err = errors.New("missing code")
		}
		if err != nil {
			if bad != nil {
				bad(line, err)
			}
			continue
		}
		c.Code = coupon.NormalizeCode(c.Code)
		fn(c)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
