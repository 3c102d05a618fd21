package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/chat"
	"github.com/drywest/timsusofun/internal/live"
	"github.com/drywest/timsusofun/internal/livechat"
	"github.com/drywest/timsusofun/internal/stream"
)

func resolveCmd() *cobra.Command {
	var videoID, channelID, handle string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Wait until the target is live and print its broadcast id",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := live.ParseTarget(videoID, channelID, handle)
			if err != nil {
				return err
			}
			resolver, _ := upstream()

			logger.Info("waiting for live broadcast", zap.Stringer("target", target))
			id, err := resolver.WaitForLive(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	targetFlags(cmd, &videoID, &channelID, &handle)
	return cmd
}

func tailCmd() *cobra.Command {
	var videoID, channelID, handle string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print chat messages of a live broadcast as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := live.ParseTarget(videoID, channelID, handle)
			if err != nil {
				return err
			}
			return runTail(cmd.Context(), target)
		},
	}
	targetFlags(cmd, &videoID, &channelID, &handle)
	return cmd
}

func runTail(ctx context.Context, target live.Target) error {
	resolver, chatClient := upstream()

	id, err := resolver.WaitForLive(ctx, target)
	if err != nil {
		return err
	}
	logger.Info("broadcast is live", zap.String("broadcastID", id))

	out := make(chan chat.Message, cfg.Fanout.QueueSize)
	engine := stream.NewEngine(id, chatClient, out, func() int { return 1 }, cfg.StreamOptions(), logger)

	runErr := make(chan error, 1)
	go func() {
		runErr <- engine.Run(ctx)
		close(out)
	}()

	for msg := range out {
		frame, err := stream.NewFrame(msg, nil)
		if err != nil {
			logger.Warn("dropping unencodable message", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintln(os.Stdout, string(frame.JSON)); err != nil {
			return err
		}
	}

	err = <-runErr
	switch {
	case errors.Is(err, livechat.ErrContinuationExhausted):
		logger.Info("broadcast ended", zap.String("broadcastID", id))
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
