package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"inkwell/api/client"
)

type cliApp struct {
	apiURL    *string
	statePath *string
}

// openSession builds an authenticated session from the saved state file.
func (a *cliApp) openSession() (*client.Session, *client.FileStateStore, error) {
	state, err := client.NewFileStateStore(*a.statePath)
	if err != nil {
		return nil, nil, err
	}
	api := client.NewAPI(*a.apiURL)
	token, refreshToken := state.Credentials()
	if token == "" {
		return nil, nil, fmt.Errorf("not logged in, run `inkwell login` first")
	}
	api.SetToken(token, refreshToken)
	return client.NewSession(api, client.WithStateStore(state)), state, nil
}

// runWithSession executes fn with an authenticated session. When the server
// rejects the access token, the saved refresh token is rotated for a fresh
// pair and fn runs once more; a failed rotation clears the stored
// credentials so the next run asks for a login.
func (a *cliApp) runWithSession(cmd *cobra.Command, fn func(s *client.Session) error) error {
	s, state, err := a.openSession()
	if err != nil {
		return err
	}
	err = fn(s)
	var authErr *client.AuthError
	if !errors.As(err, &authErr) {
		return err
	}

	// The API client discarded its credentials on 401/403; recover the
	// saved refresh token and rotate.
	_, refreshToken := state.Credentials()
	if refreshToken == "" {
		return err
	}
	api := s.API()
	api.SetToken("", refreshToken)
	if refreshErr := api.Refresh(cmd.Context()); refreshErr != nil {
		_ = state.SetCredentials("", "")
		return fmt.Errorf("session expired, run `inkwell login` again")
	}
	if saveErr := state.SetCredentials(api.Token(), api.RefreshToken()); saveErr != nil {
		return saveErr
	}
	return fn(s)
}

func (a *cliApp) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate and save credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			state, err := client.NewFileStateStore(*a.statePath)
			if err != nil {
				return err
			}
			api := client.NewAPI(*a.apiURL)
			if err := api.Login(cmd.Context(), args[0], string(raw)); err != nil {
				return err
			}
			if err := state.SetCredentials(api.Token(), api.RefreshToken()); err != nil {
				return err
			}
			fmt.Printf("logged in as %s\n", args[0])
			return nil
		},
	}
}

func (a *cliApp) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, state, err := a.openSession()
			if err != nil {
				return err
			}
			if err := s.API().Logout(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "logout: %v\n", err)
			}
			return state.SetCredentials("", "")
		},
	}
}

func (a *cliApp) categoryCmd() *cobra.Command {
	category := &cobra.Command{
		Use:     "category",
		Aliases: []string{"cat"},
		Short:   "Manage the category tree",
	}

	category.AddCommand(&cobra.Command{
		Use:   "tree",
		Short: "Print the category forest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				if err := s.FetchCategories(cmd.Context()); err != nil {
					return err
				}
				printForest(cmd.OutOrStdout(), s.Categories(), 0)
				return nil
			})
		},
	})

	var parentID int64
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				if err := s.FetchCategories(cmd.Context()); err != nil {
					return err
				}
				created, err := s.AddCategory(cmd.Context(), args[0], parentID)
				if err != nil {
					return err
				}
				fmt.Printf("created category %d %q\n", created.ID, created.Name)
				return nil
			})
		},
	}
	add.Flags().Int64Var(&parentID, "parent", 0, "parent category id (0 = root)")
	category.AddCommand(add)

	category.AddCommand(&cobra.Command{
		Use:   "rename <id> <new-name>",
		Short: "Rename a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				node, err := loadCategory(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.RenameCategory(cmd.Context(), node, args[1])
			})
		},
	})

	category.AddCommand(&cobra.Command{
		Use:   "mv <id> <new-parent-id>",
		Short: "Move a category (0 = root); moves into the category's own subtree are rejected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newParentID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parent id must be an integer")
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				node, err := loadCategory(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.MoveCategory(cmd.Context(), node, newParentID)
			})
		},
	})

	category.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a category; children move to root, its notes become uncategorized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				node, err := loadCategory(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.DeleteCategory(cmd.Context(), node)
			})
		},
	})

	return category
}

func loadCategory(cmd *cobra.Command, s *client.Session, rawID string) (*client.Category, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("category id must be an integer")
	}
	if err := s.FetchCategories(cmd.Context()); err != nil {
		return nil, err
	}
	node := s.FindCategory(id)
	if node == nil {
		return nil, fmt.Errorf("category %d not found", id)
	}
	return node, nil
}

func printForest(out io.Writer, nodes []*client.Category, depth int) {
	for _, node := range nodes {
		fmt.Fprintf(out, "%s%d  %s (%d notes)\n", strings.Repeat("  ", depth), node.ID, node.Name, node.NoteCount)
		printForest(out, node.Children, depth+1)
	}
}

func (a *cliApp) noteCmd() *cobra.Command {
	note := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
	}

	var categoryID int64
	list := &cobra.Command{
		Use:   "ls",
		Short: "List note titles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				var filter *int64
				if cmd.Flags().Changed("category") {
					filter = &categoryID
				}
				if err := s.ListTitles(cmd.Context(), filter); err != nil {
					return err
				}
				if err := s.RestoreSelection(cmd.Context()); err != nil {
					fmt.Fprintf(os.Stderr, "restore selection: %v\n", err)
				}
				for _, n := range s.Notes() {
					cursor := " "
					if s.Selected() == n {
						cursor = ">"
					}
					marker := " "
					if n.Favorite {
						marker = "*"
					}
					fmt.Printf("%s%s %d  %s\n", cursor, marker, n.ID, n.Title)
				}
				return nil
			})
		},
	}
	list.Flags().Int64Var(&categoryID, "category", 0, "only notes in this category")
	note.AddCommand(list)

	newNote := &cobra.Command{
		Use:   "new",
		Short: "Create a note from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				var category *int64
				if cmd.Flags().Changed("category") {
					category = &categoryID
				}
				n := s.NewNote(category)
				s.EditContent(n, string(content))
				if err := s.Save(cmd.Context(), n); err != nil {
					return err
				}
				fmt.Printf("created note %d %q\n", n.ID, n.Title)
				return nil
			})
		},
	}
	newNote.Flags().Int64Var(&categoryID, "category", 0, "category id for the new note")
	note.AddCommand(newNote)

	note.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print a note's content; without an id, the last selected note",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				var n *client.Note
				if len(args) == 1 {
					var err error
					if n, err = loadNote(cmd, s, args[0]); err != nil {
						return err
					}
				} else {
					if err := s.ListTitles(cmd.Context(), nil); err != nil {
						return err
					}
					if err := s.RestoreSelection(cmd.Context()); err != nil {
						return err
					}
					if n = s.Selected(); n == nil {
						return fmt.Errorf("no note selected, pass an id")
					}
				}
				if err := s.Select(cmd.Context(), n); err != nil {
					return err
				}
				fmt.Print(*n.Content)
				return nil
			})
		},
	})

	note.AddCommand(&cobra.Command{
		Use:   "edit <id>",
		Short: "Replace a note's content from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				n, err := loadNote(cmd, s, args[0])
				if err != nil {
					return err
				}
				if err := s.Hydrate(cmd.Context(), n); err != nil {
					return err
				}
				s.EditContent(n, string(content))
				return s.Save(cmd.Context(), n)
			})
		},
	})

	note.AddCommand(&cobra.Command{
		Use:   "mv <id> <category-id>",
		Short: "Reassign a note's category (0 = uncategorized)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("category id must be an integer")
			}
			return a.runWithSession(cmd, func(s *client.Session) error {
				n, err := loadNote(cmd, s, args[0])
				if err != nil {
					return err
				}
				var category *int64
				if target != 0 {
					category = &target
				}
				return s.UpdateNoteCategory(cmd.Context(), n, category)
			})
		},
	})

	note.AddCommand(&cobra.Command{
		Use:   "fav <id>",
		Short: "Toggle a note's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				n, err := loadNote(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.ToggleFavorite(cmd.Context(), n)
			})
		},
	})

	note.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				n, err := loadNote(cmd, s, args[0])
				if err != nil {
					return err
				}
				return s.DeleteNote(cmd.Context(), n)
			})
		},
	})

	return note
}

func loadNote(cmd *cobra.Command, s *client.Session, rawID string) (*client.Note, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("note id must be an integer")
	}
	if err := s.ListTitles(cmd.Context(), nil); err != nil {
		return nil, err
	}
	n := s.FindNote(id)
	if n == nil {
		return nil, fmt.Errorf("note %d not found", id)
	}
	return n, nil
}

func (a *cliApp) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across titles and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWithSession(cmd, func(s *client.Session) error {
				hits, err := s.SearchNotes(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					fmt.Println("no matches")
					return nil
				}
				for _, n := range hits {
					fmt.Printf("%d  %s\n", n.ID, n.Title)
				}
				return nil
			})
		},
	}
}
