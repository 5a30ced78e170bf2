package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"

	"github.com/spf13/cobra"
)

type (
	loadConfig func() (*config.Config, error)
	openFunc   func(*config.Config) (storage.Storage, error)
	// busFunc returns nil when no instance shares a bus with the CLI.
	busFunc func(*config.Config) (chathub.Publisher, error)
)

// cliOrigin marks deliveries the CLI publishes.
const cliOrigin = "admin-cli"

// cli carries what the subcommands share once the root has loaded config.
type cli struct {
	out   io.Writer
	cfg   *config.Config
	store storage.Storage
	bus   busFunc
}

func newRootCmd(out io.Writer, load loadConfig, open openFunc, bus busFunc) *cobra.Command {
	c := &cli{out: out, bus: bus}

	root := &cobra.Command{
		Use:          "admin",
		Short:        "Inspect support rooms and issue tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	withStore := func(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := open(c.cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			c.store = s
			return run(cmd, args)
		}
	}

	roomsCmd := &cobra.Command{Use: "rooms", Short: "List rooms"}
	openCmd := &cobra.Command{
		Use:   "open",
		Short: "List waiting and active rooms",
		Args:  cobra.NoArgs,
		RunE:  withStore(c.listOpen),
	}
	finishedCmd := &cobra.Command{
		Use:   "finished",
		Short: "List finished rooms, most recent first",
		Args:  cobra.NoArgs,
		RunE:  withStore(c.listFinished),
	}
	finishedCmd.Flags().Int("page", 1, "page number")
	finishedCmd.Flags().Int("page-size", storage.DefaultPageSize, "rooms per page")
	roomsCmd.AddCommand(openCmd, finishedCmd)

	transcriptCmd := &cobra.Command{
		Use:   "transcript <roomId>",
		Short: "Print a room's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(c.transcript),
	}

	finishCmd := &cobra.Command{
		Use:   "finish <roomId>",
		Short: "Finish an active room",
		Long: "Finish an active room in the store. With REDIS_ADDR set, running servers are told\n" +
			"over the event bus and drop the room. A server running without REDIS_ADDR keeps its\n" +
			"own copy of the room, so stop it before finishing rooms from here.",
		Args: cobra.ExactArgs(1),
		RunE: withStore(c.finish),
	}

	tokenCmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Issue a connection token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE:  c.token,
	}
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().Bool("admin", false, "issue an administrator token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	root.AddCommand(roomsCmd, transcriptCmd, finishCmd, tokenCmd)
	return root
}

func (c *cli) listOpen(cmd *cobra.Command, _ []string) error {
	list, err := c.store.ListOpenRooms(cmd.Context())
	if err != nil {
		return err
	}
	c.printRooms(list)
	return nil
}

func (c *cli) listFinished(cmd *cobra.Command, _ []string) error {
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("page-size")
	list, err := c.store.ListFinished(cmd.Context(), storage.Page{Page: page, PageSize: size}.Normalize())
	if err != nil {
		return err
	}
	c.printRooms(list)
	return nil
}

func (c *cli) printRooms(list []models.Room) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tSTATE\tSHOPPER\tADMIN\tUPDATED")
	for _, r := range list {
		admin := "-"
		if r.Admin != nil {
			admin = r.Admin.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RoomID, r.State, r.Shopper.Name, admin, r.UpdatedAt.UTC().Format(time.RFC3339))
	}
	w.Flush()
}

func (c *cli) transcript(cmd *cobra.Command, args []string) error {
	room, err := c.store.GetRoom(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "room %s (%s), shopper %s\n", room.RoomID, room.State, room.Shopper.Name)
	for _, m := range room.Messages {
		fmt.Fprintf(c.out, "[%s] %s: %s\n", m.SentAt.UTC().Format(time.RFC3339), m.SenderName, m.Body)
	}
	return nil
}

func (c *cli) finish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	room, err := c.store.GetRoom(ctx, args[0])
	if err != nil {
		return err
	}
	switch room.State {
	case models.RoomFinished:
		fmt.Fprintf(c.out, "room %s is already finished\n", room.RoomID)
		return nil
	case models.RoomActive:
	default:
		return fmt.Errorf("room %s is %s, only active rooms can be finished: %w", room.RoomID, room.State, rooms.ErrInvalidState)
	}

	at := time.Now().UTC()
	if !at.After(room.UpdatedAt) {
		at = room.UpdatedAt.Add(time.Microsecond)
	}
	err = c.store.MarkFinished(ctx, room.RoomID, at)
	if errors.Is(err, storage.ErrStateConflict) {
		return fmt.Errorf("room %s changed while finishing it: %w", room.RoomID, rooms.ErrInvalidState)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "room %s finished\n", room.RoomID)
	return c.announceFinished(ctx, *room)
}

// announceFinished tells running servers to drop the room and notify its
// participants.
func (c *cli) announceFinished(ctx context.Context, room models.Room) error {
	pub, err := c.bus(c.cfg)
	if err != nil {
		return fmt.Errorf("room %s finished but servers were not told: %w", room.RoomID, err)
	}
	if pub == nil {
		return nil
	}
	env, err := models.NewEnvelope(models.EventRoomFinished, models.RoomIDPayload{RoomID: room.RoomID})
	if err != nil {
		return err
	}
	return pub.Publish(ctx, chathub.Delivery{
		UserIDs:  []string{room.Shopper.ID},
		Admins:   true,
		RoomID:   room.RoomID,
		Origin:   cliOrigin,
		Envelope: env,
	})
}

func (c *cli) token(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	admin, _ := cmd.Flags().GetBool("admin")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	authn := auth.NewJWTAuthenticator(c.cfg.JWTSecret)
	tok, err := authn.IssueToken(auth.Identity{ID: args[0], Name: name, IsAdmin: admin}, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, tok)
	return nil
}
