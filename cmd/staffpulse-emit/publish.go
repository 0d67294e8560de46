package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pscheid92/staffpulse/internal/adapter/eventpublisher"
	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/spf13/cobra"
)

const publishTimeout = 30 * time.Second

func newPublishCmd(flags *brokerFlags, openSinks sinkFactory) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "publish [file|-]",
		Short: "Publish a JSON event",
		Long: `Publish one event. The payload is the event JSON including its "type" field,
read from --data, from the given file, or from stdin when the argument is "-".

Example:
  staffpulse-emit publish --data '{"type":"kpi:update","organization_id":"acme","metrics":{"aht":312}}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), data, args)
			if err != nil {
				return err
			}
			return withPublisher(cmd.Context(), *flags, openSinks, func(ctx context.Context, ep *eventpublisher.EventPublisher) error {
				if err := ep.PublishRaw(ctx, payload); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "published")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Inline event JSON")
	return cmd
}

func newNoticeCmd(flags *brokerFlags, openSinks sinkFactory) *cobra.Command {
	var (
		notice   domain.SystemNotice
		kind     string
		startsIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notice",
		Short: "Publish a maintenance or announcement notice",
		Long: `Publish a system notice. Without --org it reaches every connected client.

Example:
  staffpulse-emit notice --kind maintenance --message "Upgrade tonight" --starts-in 2h --duration 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			notice.Kind = domain.NoticeKind(kind)
			if notice.Kind != domain.NoticeMaintenance && notice.Kind != domain.NoticeAnnouncement {
				return fmt.Errorf("unknown notice kind %q", kind)
			}
			if notice.Message == "" {
				return errors.New("--message is required")
			}
			if startsIn > 0 {
				at := time.Now().Add(startsIn).UTC()
				notice.StartsAt = &at
			}

			return withPublisher(cmd.Context(), *flags, openSinks, func(ctx context.Context, ep *eventpublisher.EventPublisher) error {
				if err := ep.Publish(ctx, notice); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", notice.EventType())
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", string(domain.NoticeAnnouncement), "maintenance or announcement")
	f.StringVar(&notice.OrganizationID, "org", "", "Restrict the notice to one organization")
	f.StringVar(&notice.Title, "title", "", "Notice title")
	f.StringVar(&notice.Message, "message", "", "Notice body")
	f.StringVar(&notice.Severity, "severity", "", "info, warning or critical")
	f.StringVar(&notice.Duration, "duration", "", "Expected maintenance duration")
	f.DurationVar(&startsIn, "starts-in", 0, "Maintenance start relative to now")
	return cmd
}

func readPayload(stdin io.Reader, inline string, args []string) ([]byte, error) {
	switch {
	case inline != "" && len(args) > 0:
		return nil, errors.New("use either --data or a file argument, not both")
	case inline != "":
		return []byte(inline), nil
	case len(args) == 0:
		return nil, errors.New("no payload: pass --data, a file, or - for stdin")
	case args[0] == "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(args[0])
	}
}

func withPublisher(ctx context.Context, flags brokerFlags, openSinks sinkFactory, fn func(context.Context, *eventpublisher.EventPublisher) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	sinks, release, err := openSinks(ctx, flags)
	if release != nil {
		defer release()
	}
	if err != nil {
		return err
	}
	return fn(ctx, eventpublisher.New(sinks...))
}
