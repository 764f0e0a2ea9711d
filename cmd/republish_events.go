package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/queue-service/internal/application"
	"github.com/psds-microservice/queue-service/internal/config"
	"github.com/psds-microservice/queue-service/internal/kafka"
	"github.com/psds-microservice/queue-service/internal/logger"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/spf13/cobra"
)

var republishEventsCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Republish today's queue entries as queue.snapshot events. Prefers Kafka; falls back to HTTP if SEARCH_SERVICE_URL set.",
	RunE:  runRepublishEvents,
}

func init() {
	rootCmd.AddCommand(republishEventsCmd)
}

func runRepublishEvents(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env") // repo root when running from bin/
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.AppEnv)
	comp, err := application.Build(cfg, log, false)
	if err != nil {
		return err
	}
	defer comp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var entries []model.QueueEntry
	for _, dept := range comp.Registry.IDs() {
		items, err := comp.Queue.GetTodayQueue(ctx, dept)
		if err != nil {
			return fmt.Errorf("today queue %s: %w", dept, err)
		}
		entries = append(entries, items...)
	}
	log.Info().Int("entries", len(entries)).Msg("republish-events: found today's entries")

	// Prefer Kafka, then HTTP
	if comp.Producer.Enabled() {
		for i := range entries {
			comp.Producer.ProduceQueueEvent(ctx, kafka.EventSnapshot, &entries[i])
			if (i+1)%50 == 0 || i == len(entries)-1 {
				log.Info().Msgf("republish-events: sent %d/%d events to Kafka", i+1, len(entries))
			}
		}
		return nil
	}
	if comp.Search.Enabled() {
		failed := 0
		for i := range entries {
			if err := comp.Search.IndexEntry(ctx, &entries[i]); err != nil {
				failed++
				log.Warn().Err(err).Str("entry_id", entries[i].ID).Msg("republish-events: index entry")
			}
		}
		log.Info().Int("indexed", len(entries)-failed).Int("failed", failed).Msg("republish-events: done via HTTP")
		return nil
	}
	log.Warn().Msg("republish-events: neither KAFKA_BROKERS nor SEARCH_SERVICE_URL set, nothing sent")
	return nil
}
