package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/cheggaaa/pb.v1"

	"monsterlab/config"
	"monsterlab/db"
	"monsterlab/logging"
	"monsterlab/ml"
	"monsterlab/monster"
)

type args struct {
	Config  string `arg:"-c,--config" help:"YAML config file"`
	DB      string `arg:"--db" help:"database path, overrides the config"`
	Model   string `arg:"-o,--model" help:"artifact output path, overrides the config"`
	Seed    int    `arg:"--seed" help:"insert this many generated monsters before training"`
	Restore string `arg:"--restore" help:"restore monsters from a JSON backup before training"`
	Backup  string `arg:"--backup" help:"write the training monsters to a JSON backup"`
	Workers int    `arg:"-w,--workers" help:"trees built in parallel, 0 for one per CPU"`
	Quiet   bool   `arg:"-q,--quiet" help:"hide the progress bar"`
}

func (args) Description() string {
	return "Trains the monster rarity classifier from the database and saves the artifact."
}

func main() {
	a := args{Config: "config.yaml"}
	arg.MustParse(&a)

	cfg, err := config.Load(a.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if a.DB != "" {
		cfg.Database.Path = a.DB
	}
	if a.Model != "" {
		cfg.Model.Path = a.Model
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a, cfg, logger); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, a args, cfg *config.Config, logger *zap.Logger) error {
	p := message.NewPrinter(language.English)

	store, err := db.Open(cfg.Database.Path, db.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	if a.Restore != "" {
		if err := store.Restore(ctx, a.Restore); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	if a.Seed > 0 {
		if err := store.Seed(ctx, a.Seed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	if a.Backup != "" {
		if err := store.Backup(ctx, a.Backup); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	count, err := store.Count(ctx, monster.Query{})
	if err != nil {
		return err
	}
	p.Printf("Monster Count: %d\n\n", count)

	fmt.Println("Training from Database:")
	start := time.Now()
	table, err := store.Table(ctx)
	if err != nil {
		return err
	}
	opts := []ml.TrainOption{ml.WithWorkers(a.Workers)}
	var bar *pb.ProgressBar
	if !a.Quiet {
		bar = pb.StartNew(ml.DefaultForestConfig().Trees)
		opts = append(opts, ml.WithProgress(func(done, total int) { bar.Set(done) }))
	}
	artifact, err := ml.Train(ctx, table, ml.DefaultTarget, ml.DefaultFeatures(), opts...)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Printf("Time to Train: %.3fs\n\n", time.Since(start).Seconds())

	fmt.Println("Serializing and Saving Model:")
	start = time.Now()
	if err := ml.Save(cfg.Model.Path, artifact); err != nil {
		return err
	}
	fmt.Printf("Time to Save: %.3fs\n\n", time.Since(start).Seconds())

	fmt.Println("Opening Serialized Model:")
	start = time.Now()
	artifact, err = ml.Load(cfg.Model.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Time to Open: %.3fs\n\n", time.Since(start).Seconds())

	fmt.Println(artifact.Metadata())
	return nil
}
