package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"inkwell/api/client"
)

func (a *cliApp) tagCmd() *cobra.Command {
	tag := &cobra.Command{
		Use:   "tag",
		Short: "Manage tags",
	}

	tag.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				tags, err := s.ListTags(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range tags {
					fmt.Printf("%d  %s  %s\n", t.ID, t.Name, t.Color)
				}
				return nil
			})
		},
	})

	var color string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				created, err := s.CreateTag(cmd.Context(), args[0], color)
				if err != nil {
					return err
				}
				fmt.Printf("created tag %d %q\n", created.ID, created.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&color, "color", "", "hex color, server default when empty")
	tag.AddCommand(add)

	tag.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("tag id must be an integer")
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				return s.DeleteTag(cmd.Context(), id)
			})
		},
	})

	tag.AddCommand(&cobra.Command{
		Use:   "note <note-id> <tag-id>",
		Short: "Attach a tag to a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tagID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("tag id must be an integer")
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				n, err := loadNote(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.TagNote(cmd.Context(), n, tagID)
			})
		},
	})

	tag.AddCommand(&cobra.Command{
		Use:   "unnote <note-id> <tag-id>",
		Short: "Detach a tag from a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tagID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("tag id must be an integer")
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				n, err := loadNote(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.UntagNote(cmd.Context(), n, tagID)
			})
		},
	})

	return tag
}
