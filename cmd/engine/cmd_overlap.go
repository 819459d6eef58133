package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/model"
)

func runDetect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	switch {
	case detectTrip != "":
		created, err := e.detector.DetectForTrip(ctx, model.TripID(detectTrip))
		if err != nil {
			return err
		}
		return printJSON(created)
	case detectUser != "":
		created, err := e.detector.DetectForUser(ctx, model.UserID(detectUser))
		if err != nil {
			return err
		}
		return printJSON(created)
	default:
		sum, err := e.detector.DetectAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("users=%d created=%d failed=%d\n", sum.Users, sum.Created, sum.Failed)
		return nil
	}
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.manager.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d expired overlaps\n", n)
	return nil
}

func runOverlapsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	list, err := e.manager.ListForUser(ctx, model.UserID(overlapUser), includeDismissed)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runOverlapsDismiss(cmd *cobra.Command, _ []string) error {
	return setDismissed(cmd, true)
}

func runOverlapsUndismiss(cmd *cobra.Command, _ []string) error {
	return setDismissed(cmd, false)
}

func setDismissed(cmd *cobra.Command, dismissed bool) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	id, user := model.OverlapID(overlapID), model.UserID(overlapUser)
	if dismissed {
		err = e.manager.Dismiss(ctx, id, user)
	} else {
		err = e.manager.Undismiss(ctx, id, user)
	}
	if err != nil {
		return err
	}
	fmt.Printf("overlap %s dismissed=%t for %s\n", id, dismissed, user)
	return nil
}

func runTripChanged(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	nc, err := connectNATS(cfg, log, "partner-engine-cli")
	if err != nil {
		return err
	}
	defer nc.Close()
	return nc.PublishTripChanged(messaging.TripChanged{
		TripID: model.TripID(changedTrip),
		UserID: model.UserID(changedUser),
	})
}
