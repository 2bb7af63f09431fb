package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/delaneyj/ngscope/scope"
	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

var (
	ww = []int{1, 10, 100, 1_000}
	hh = []int{1, 10, 100}
)

// tree is a root with w chains of h descendants, each leaf watching the
// root's src key through the lookup chain.
type tree struct {
	root   *scope.Scope
	leaves int
	sum    int
}

func buildTree(w, h int) (*tree, error) {
	t := &tree{}
	t.root = scope.NewRoot(map[string]any{"src": 0}, scope.WithErrorHandler(func(err error) {
		log.Panic(err)
	}))
	for i := 0; i < w; i++ {
		s := t.root
		for j := 0; j < h; j++ {
			s = s.New(nil)
		}
		_, err := s.WatchLazy("src + 1", func(v any, _ *scope.Object) error {
			t.sum += v.(int)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("watch leaf %d: %w", i, err)
		}
		t.leaves++
	}
	return t, nil
}

func bench(ctx context.Context, cmd *cli.Command) error {
	log.Printf("Starting scope benchmark, please wait...")
	defer log.Printf("Finished scope benchmark")

	iters := int(cmd.Int(itersKey))
	if iters <= 0 {
		return fmt.Errorf("%s must be positive, got %d", itersKey, iters)
	}
	widths, depths := ww, hh
	if w := int(cmd.Int(widthKey)); w > 0 {
		widths = []int{w}
	}
	if h := int(cmd.Int(depthKey)); h > 0 {
		depths = []int{h}
	}

	tbl := table.NewWriter()
	tbl.SetTitle("Scope propagation")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "scopes", "notified", "avg", "min", "p75", "p99", "max"})

	for _, w := range widths {
		for _, h := range depths {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := buildTree(w, h)
			if err != nil {
				return err
			}
			sched := t.root.Registry().Scheduler()
			before := sched.Notified()

			tach := tachymeter.New(&tachymeter.Config{Size: iters})
			for i := 1; i <= iters; i++ {
				start := time.Now()
				t.root.Set("src", i)
				t.root.Flush()
				tach.AddTime(time.Since(start))
			}

			notified := sched.Notified() - before
			if want := uint64(iters * t.leaves); notified != want {
				return fmt.Errorf("%dx%d: notified %d listeners, want %d", w, h, notified, want)
			}

			calc := tach.Calc()
			tbl.AppendRow(table.Row{
				fmt.Sprintf("propagate: %dx%d", w, h),
				humanize.Comma(int64(w*h + 1)),
				humanize.Comma(int64(notified)),
				calc.Time.Avg,
				calc.Time.Min,
				calc.Time.P75,
				calc.Time.P99,
				calc.Time.Max,
			})
			log.Printf("%dx%d done, sum %s", w, h, humanize.Comma(int64(t.sum)))
			t.root.Destroy()
		}
	}
	tbl.Render()
	return nil
}
