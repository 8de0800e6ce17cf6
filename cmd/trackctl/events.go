package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localbiz/directory-analytics/internal/tracker"
)

var contactChannels = map[string]tracker.ContactChannel{
	string(tracker.ChannelPhone):      tracker.ChannelPhone,
	string(tracker.ChannelWhatsApp):   tracker.ChannelWhatsApp,
	string(tracker.ChannelEmail):      tracker.ChannelEmail,
	string(tracker.ChannelWebsite):    tracker.ChannelWebsite,
	string(tracker.ChannelDirections): tracker.ChannelDirections,
}

func newPageViewCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "page-view BUSINESS_ID",
		Short: "Track a business page view",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a.tracker.TrackPageView(args[0], source)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "where the visitor came from")
	return cmd
}

func newContactCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "contact BUSINESS_ID CHANNEL",
		Short:     "Track a click on a business contact channel",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"phone", "whatsapp", "email", "website", "directions"},
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, ok := contactChannels[args[1]]
			if !ok {
				return fmt.Errorf("unknown contact channel %q", args[1])
			}
			a.tracker.TrackContactClick(args[0], channel)
			return nil
		},
	}
}

func newMapPinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "map-pin BUSINESS_ID",
		Short: "Track a map pin click",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a.tracker.TrackMapPinClick(args[0])
		},
	}
}

func newFavoriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite BUSINESS_ID add|remove",
		Short: "Track a favorite toggle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := tracker.FavoriteAction(args[1])
			if action != tracker.FavoriteAdd && action != tracker.FavoriteRemove {
				return fmt.Errorf("favorite action must be add or remove, got %q", args[1])
			}
			a.tracker.TrackFavorite(args[0], action)
			return nil
		},
	}
}

func newShareCmd(a *app) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "share BUSINESS_ID",
		Short: "Track a business being shared",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a.tracker.TrackShare(args[0], platform)
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "share target, e.g. whatsapp")
	return cmd
}

func newImpressionsCmd(a *app) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "impressions BUSINESS_ID...",
		Short: "Track businesses shown in search results as one batch",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a.tracker.TrackSearchImpressions(args, query)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "search query that produced the results")
	return cmd
}

func newSessionCmd(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Print the current session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset {
				if err := a.session.Reset(); err != nil {
					return fmt.Errorf("failed to reset session: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.session.ID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "start a new session first")
	return cmd
}
