// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	venuedb "github.com/poiesic/venuedb"
	"github.com/poiesic/venuedb/ai"
	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/query"
)

func main() {
	app := &cli.App{
		Name:  "venuedb",
		Usage: "Hybrid retrieval store for venues and review fragments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "seed",
				Usage:  "Load places and chunks from a JSON lines file",
				Action: seedCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "Path to JSON lines file (one place or chunk per line)",
						Required: true,
					},
				),
			},
			{
				Name:   "search",
				Usage:  "Run a hybrid search",
				Action: searchCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of results",
						Value: 5,
					},
					&cli.StringFlag{
						Name:  "neighborhood",
						Usage: "Hard filter: exact neighborhood",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Hard filter: required tag (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "amenity",
						Usage: "Hard filter: amenity as name=value (repeatable)",
					},
				),
			},
			{
				Name:   "citations",
				Usage:  "Show citation entries for a place",
				Action: citationsCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "place",
						Aliases:  []string{"p"},
						Usage:    "Place ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "Optional query text (empty means most recent)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum entries",
						Value: 10,
					},
				),
			},
			{
				Name:   "reindex",
				Usage:  "Re-derive documents and embeddings for one place",
				Action: reindexCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "place",
						Aliases:  []string{"p"},
						Usage:    "Place ID",
						Required: true,
					},
				),
			},
			{
				Name:   "refresh-cache",
				Usage:  "Rebuild the citation cache snapshot",
				Action: refreshCacheCommand,
				Flags:  storeFlags(),
			},
			{
				Name:   "sweep",
				Usage:  "Retry derivation for rows whose embeddings failed",
				Action: sweepCommand,
				Flags:  storeFlags(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "text-embedding-3-small",
		},
		&cli.IntFlag{
			Name:  "dimensions",
			Usage: "Embedding dimension",
			Value: core.DefaultEmbeddingDim,
		},
	}
}

func openStore(c *cli.Context) (*venuedb.Store, error) {
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithDimensions(c.Int("dimensions")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	return venuedb.Open(c.String("db"),
		venuedb.WithAIConfig(aiConfig),
		venuedb.WithDimensions(c.Int("dimensions")),
	)
}

// seedRecord is one JSON line of seed input. Lines with a "text" field are
// chunks; everything else is a place.
type seedRecord struct {
	// Shared
	PlaceID string `json:"place_id"`

	// Place fields
	Name         string          `json:"name,omitempty"`
	Neighborhood string          `json:"neighborhood,omitempty"`
	Categories   []string        `json:"categories,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Lat          *float64        `json:"lat,omitempty"`
	Lon          *float64        `json:"lon,omitempty"`
	Amenities    map[string]any  `json:"amenities,omitempty"`
	Payload      map[string]any  `json:"enriched_payload,omitempty"`

	// Chunk fields
	SourceReviewID string `json:"source_review_id,omitempty"`
	Ordinal        int    `json:"ordinal,omitempty"`
	Text           string `json:"text,omitempty"`
	OccurredAt     string `json:"occurred_at,omitempty"`
}

func seedCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	file, err := os.Open(c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	places, chunks := 0, 0
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var rec seedRecord
		if err := decoder.Decode(&rec); err != nil {
			return fmt.Errorf("failed to decode record %d: %w", places+chunks+1, err)
		}

		if rec.Text != "" {
			chunk, err := rec.toChunk()
			if err != nil {
				return err
			}
			if _, err := store.AppendChunk(ctx, chunk); err != nil {
				return fmt.Errorf("chunk (%s, %s, %d): %w", rec.PlaceID, rec.SourceReviewID, rec.Ordinal, err)
			}
			chunks++
			continue
		}

		place, err := rec.toPlace()
		if err != nil {
			return err
		}
		if _, err := store.UpsertPlace(ctx, place); err != nil {
			return fmt.Errorf("place %s: %w", rec.PlaceID, err)
		}
		places++
	}

	fmt.Fprintf(os.Stderr, "Seeded %d places and %d chunks\n", places, chunks)
	return nil
}

func (r *seedRecord) toPlace() (*core.Place, error) {
	place := &core.Place{
		PlaceID:         r.PlaceID,
		Name:            r.Name,
		Neighborhood:    r.Neighborhood,
		Categories:      r.Categories,
		Tags:            r.Tags,
		EnrichedPayload: r.Payload,
	}
	if r.Lat != nil && r.Lon != nil {
		place.Location = &core.Location{Lat: *r.Lat, Lon: *r.Lon}
	}
	for name, raw := range r.Amenities {
		value, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("place %s: amenity %s must be a string", r.PlaceID, name)
		}
		var err error
		switch name {
		case query.AmenityFreeWifi:
			place.Amenities.FreeWifi, err = core.ParseTriState(value)
		case query.AmenityPurchaseRequired:
			place.Amenities.PurchaseRequired, err = core.ParseTriState(value)
		case query.AmenityOperational:
			place.Amenities.Operational, err = core.ParseTriState(value)
		case query.AmenityHasCinnamonRolls:
			place.Amenities.HasCinnamonRolls, err = core.ParseQuadState(value)
		default:
			err = fmt.Errorf("%w: %q", core.ErrUnknownAmenity, name)
		}
		if err != nil {
			return nil, fmt.Errorf("place %s: %w", r.PlaceID, err)
		}
	}
	return place, nil
}

func (r *seedRecord) toChunk() (*core.Chunk, error) {
	chunk := &core.Chunk{
		PlaceID:        r.PlaceID,
		SourceReviewID: r.SourceReviewID,
		Ordinal:        r.Ordinal,
		Text:           r.Text,
	}
	if r.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, r.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("chunk (%s, %s, %d): occurred_at: %w", r.PlaceID, r.SourceReviewID, r.Ordinal, err)
		}
		chunk.OccurredAt = t
	}
	return chunk, nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	filters := &query.Filters{
		Neighborhood: c.String("neighborhood"),
		Tags:         c.StringSlice("tag"),
	}
	for _, pair := range c.StringSlice("amenity") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("amenity filter must be name=value, got %q", pair)
		}
		if filters.Amenities == nil {
			filters.Amenities = make(map[string]string)
		}
		filters.Amenities[name] = value
	}

	results, err := store.HybridSearch(ctx, c.String("query"), filters, c.Int("k"))
	if err != nil {
		return err
	}

	for i, r := range results {
		fmt.Printf("%2d. %-40s score=%.4f", i+1, r.Place.Name, r.Score)
		if r.Evidence.LexicalOnly {
			fmt.Printf("  [lexical-only]")
		}
		fmt.Printf("\n    place_id=%s neighborhood=%s sem=%.3f lex=%.3f\n",
			r.Place.PlaceID, r.Place.Neighborhood,
			r.Evidence.SemanticScore, r.Evidence.LexicalNorm)
	}
	return nil
}

func citationsCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Citations(ctx, c.String("place"), c.String("query"), c.Int("limit"))
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("[%s] %s (%s)\n    %s\n",
			e.OccurredAt.Format("2006-01-02"), e.PlaceName, e.Neighborhood, e.Text)
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	placeID := c.String("place")
	if err := store.Reindex(ctx, placeID); err != nil {
		return fmt.Errorf("reindex %s: %w", placeID, err)
	}
	fmt.Fprintf(os.Stderr, "Reindexed %s\n", placeID)
	return nil
}

func refreshCacheCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RefreshCitationCache(ctx); err != nil {
		return fmt.Errorf("citation cache refresh failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Citation cache refreshed")
	return nil
}

func sweepCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	repaired, err := store.SweepPending(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Repaired %d pending rows\n", repaired)
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
