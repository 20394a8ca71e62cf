/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"venue-jukebox-go/internal/common"
	"venue-jukebox-go/internal/config"
	"venue-jukebox-go/internal/coordinator"
	"venue-jukebox-go/internal/models"

	"go.uber.org/zap"
)

const usage = `usage: jukebox <command> [flags]

commands:
  add        charge points and queue a track
  next       pop the next track and mark it playing
  queue      show the current track and both lanes
  purchase   credit a point package for a settled payment
  reverse    reverse a purchase credit
  adjust     apply an admin bonus or penalty`

var errUnknownCommand = errors.New("unknown command")

var commands = map[string]func(context.Context, *common.Services, []string) error{
	"add":   runAdd,
	"next":  runNext,
	"queue": runQueue,
	"purchase": func(ctx context.Context, services *common.Services, args []string) error {
		return runPurchase(ctx, services, false, args)
	},
	"reverse": func(ctx context.Context, services *common.Services, args []string) error {
		return runPurchase(ctx, services, true, args)
	},
	"adjust": runAdjust,
}

func main() {
	if len(os.Args) < 2 || commands[os.Args[1]] == nil {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := run(ctx, services, command, args); err != nil {
		if code := coordinator.CodeOf(err); code != "" {
			fmt.Printf("\n✗ %s\n", code)
		}
		zap.L().Error("Command failed", zap.String("command", command), zap.Error(err))
	}
}

func run(ctx context.Context, services *common.Services, command string, args []string) error {
	fn, ok := commands[command]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
	return fn(ctx, services, args)
}

func runAdd(ctx context.Context, services *common.Services, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	venue := fs.String("venue", "", "Venue id (required)")
	user := fs.String("user", "", "Requesting user id (required)")
	track := fs.String("track", "", "Track id (required)")
	title := fs.String("title", "", "Track title")
	duration := fs.Int("duration", 0, "Track duration in seconds")
	lane := fs.String("lane", string(models.LaneStandard), "Lane: standard or priority")
	cost := fs.Int64("cost", 0, "Points to charge (default: venue price for the lane)")
	requestId := fs.String("request-id", "", "Request id, reuse only to resume the same call")
	if err := fs.Parse(args); err != nil {
		return err
	}

	price := *cost
	if price <= 0 {
		venuePrice, err := services.PointsAPI.CostFor(*venue, models.Lane(*lane))
		if err != nil {
			return err
		}
		price = venuePrice
	}

	entry, err := services.Coordinator.AddTrack(ctx, coordinator.AddTrackRequest{
		VenueId:         *venue,
		UserId:          *user,
		TrackId:         *track,
		Title:           *title,
		DurationSeconds: *duration,
		Lane:            models.Lane(*lane),
		Cost:            price,
		RequestId:       *requestId,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n✓ Queued %s in the %s lane for %s\n", entry.TrackId, entry.Lane, common.FormatPoints(price))
	fmt.Printf("   Request ID: %s\n", entry.RequestId)
	fmt.Printf("   Transaction ID: %s\n\n", entry.TransactionId)
	return nil
}

func runNext(ctx context.Context, services *common.Services, args []string) error {
	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	venue := fs.String("venue", "", "Venue id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entry, err := services.Coordinator.NextTrack(ctx, *venue)
	if err != nil {
		return err
	}
	fmt.Printf("\n▶ Now playing %s (%s lane, requested by %s)\n\n", entry.TrackId, entry.Lane, entry.RequestedBy)
	return nil
}

func runQueue(ctx context.Context, services *common.Services, args []string) error {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	venue := fs.String("venue", "", "Venue id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	snapshot, err := services.Coordinator.Snapshot(ctx, *venue)
	if err != nil {
		return err
	}

	common.PrintHeader(fmt.Sprintf("QUEUE: %s", *venue), common.DefaultWidth)
	if snapshot.Current != nil {
		fmt.Printf("Now playing: %s (%s)\n", snapshot.Current.TrackId, snapshot.Current.Title)
	}
	for _, lane := range []struct {
		name    string
		entries []models.QueueEntry
	}{{"Priority", snapshot.Priority}, {"Standard", snapshot.Standard}} {
		fmt.Printf("\n%s lane (%d)\n", lane.name, len(lane.entries))
		for i, e := range lane.entries {
			fmt.Printf("%s %-20s %-12s %s\n", common.BoxPrefix(i == len(lane.entries)-1),
				e.TrackId, e.RequestedBy, e.AddedAt.Format("15:04:05"))
		}
	}
	common.PrintFooter(fmt.Sprintf("%d tracks waiting", len(snapshot.Priority)+len(snapshot.Standard)), common.DefaultWidth)
	return nil
}

func runPurchase(ctx context.Context, services *common.Services, reverse bool, args []string) error {
	fs := flag.NewFlagSet("purchase", flag.ContinueOnError)
	venue := fs.String("venue", "", "Venue id (required)")
	user := fs.String("user", "", "User id (required)")
	pkg := fs.String("package", "", "Point package id (required)")
	paymentRef := fs.String("payment-ref", "", "Settled payment reference (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	apply, verb := services.PointsAPI.CreditPurchase, "Credited"
	if reverse {
		apply, verb = services.PointsAPI.RefundPurchase, "Reversed"
	}
	result, err := apply(ctx, *user, *venue, *pkg, *paymentRef)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("purchase not applied: %s", result.Error)
	}

	fmt.Printf("\n✓ %s %s for %s at %s\n", verb, common.FormatPoints(result.Points), result.Price.StringFixed(2), *venue)
	fmt.Printf("   New balance: %s (replayed: %t)\n\n", common.FormatPoints(result.NewBalance), result.Replayed)
	return nil
}

func runAdjust(ctx context.Context, services *common.Services, args []string) error {
	fs := flag.NewFlagSet("adjust", flag.ContinueOnError)
	venue := fs.String("venue", "", "Venue id (required)")
	user := fs.String("user", "", "User id (required)")
	delta := fs.Int64("delta", 0, "Points to add (positive) or remove (negative)")
	reason := fs.String("reason", "", "Reason recorded on the transaction")
	ref := fs.String("ref", "", "Idempotency reference (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tx, err := services.PointsAPI.AdminAdjust(ctx, *user, *venue, *delta, *reason, *ref)
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ Applied %s of %s, balance now %s\n\n", tx.Type, common.FormatPoints(tx.Amount), common.FormatPoints(tx.BalanceAfter))
	return nil
}
