package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/config"
	"cqadvisor/pkg/logging"
	"cqadvisor/pkg/optimizer"
	"cqadvisor/pkg/storage"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7C3AED")).
			Bold(true)

	costStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

func main() {
	configPath := flag.String("config", "", "advisor config file (yaml)")
	workloadPath := flag.String("workload", "configs/workload.yaml", "workload file with relations and queries")
	mode := flag.String("mode", "bnb", "search mode: bnb, wsc or wsc-estimate")
	showCandidates := flag.Bool("show-candidates", false, "print candidate indexes and view tuples")
	flag.Parse()

	if err := run(*configPath, *workloadPath, *mode, *showCandidates); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(configPath, workloadPath, mode string, showCandidates bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wl, err := config.LoadWorkload(workloadPath)
	if err != nil {
		return err
	}
	engine, err := storage.Open(cfg.Storage.Path, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	ids := common.NewIDAllocator()
	cat, err := loadCatalog(ctx, wl, engine, ids)
	if err != nil {
		return err
	}
	texts := make([]string, len(wl.Queries))
	weights := make([]float64, len(wl.Queries))
	for i, q := range wl.Queries {
		texts[i], weights[i] = q.Expr, *q.Weight
	}
	w, err := optimizer.NewWorkload(cat, ids, texts, weights)
	if err != nil {
		return err
	}

	start := time.Now()
	app, err := optimizer.New(ctx, w, optimizer.ParamsFromConfig(cfg), engine, log)
	if err != nil {
		return err
	}
	log.Info("application ready", zap.Int("candidates", len(app.Candidates())), zap.Duration("took", time.Since(start)))
	if showCandidates {
		fmt.Println(titleStyle.Render("Queries"))
		for _, q := range app.Queries() {
			fmt.Println(q.Show())
		}
		fmt.Println(titleStyle.Render("Candidates"))
		fmt.Println(app.ShowCandidates())
	}

	var d *optimizer.Design
	switch mode {
	case "bnb":
		d, err = app.Optimize(ctx)
		if errors.Is(err, context.Canceled) {
			log.Warn("search interrupted, reporting best design so far")
			err = nil
		}
	case "wsc":
		d, _ = app.OptimizeWSCStandalone(true)
	case "wsc-estimate":
		var obj float64
		d, obj = app.OptimizeWSCStandalone(false)
		log.Info("estimate-mode objective", zap.Float64("objective", obj))
	default:
		return errors.Newf("unknown mode %q", mode)
	}
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Design"))
	fmt.Println(d.Show())
	fmt.Println(costStyle.Render(fmt.Sprintf("cost %.6g (storage %.6g, query time %.6g) in %s",
		d.Cost(), d.StorageCost(), d.QueryTime(), time.Since(start).Round(time.Millisecond))))
	return nil
}

// loadCatalog takes relation statistics from the workload file, or from the
// database when the file declares none.
func loadCatalog(ctx context.Context, wl *config.Workload, engine *storage.Engine, ids *common.IDAllocator) (*catalog.Catalog, error) {
	if len(wl.Relations) > 0 {
		return wl.Catalog(ids)
	}
	rels, err := engine.LoadRelations(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, errors.New("workload declares no relations and the database has none")
	}
	return catalog.New(rels...), nil
}
