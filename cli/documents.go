package cli

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/stevemurr/docstore/docdb"
)

// scanOptions are the window flags shared by find and remove.
type scanOptions struct {
	limit  int
	offset int
	loose  bool
}

func (o *scanOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.limit, "limit", 0, "maximum number of documents (0 = no limit)")
	cmd.Flags().IntVar(&o.offset, "offset", 0, "number of matches to skip")
	cmd.Flags().BoolVar(&o.loose, "loose", false, "compare values with loose equality")
}

func (o *scanOptions) params() docdb.Params {
	p := docdb.Params{Limit: o.limit, Offset: o.offset}
	if o.loose {
		p.Mode = docdb.Loose
	}
	return p
}

// parseQuery decodes the optional query argument at index 1.
func parseQuery(args []string) (any, error) {
	if len(args) < 2 {
		return nil, nil
	}
	var q any
	if err := json.Unmarshal([]byte(args[1]), &q); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	return q, nil
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <collection> <json>",
		Short: "Insert a document and print it with its _id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc docdb.Document
			if err := json.Unmarshal([]byte(args[1]), &doc); err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			stored, err := s.collection(args[0]).Insert(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stored)
		},
	}
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "find <collection> [json-query]",
		Short: "Print the documents matching a query",
		Long: `Print the documents matching a query, oldest first, as a JSON array.

A query maps field names to a value (equality) or to an operator object:
  {"age": {"$gte": 18}, "name": {"$like": "^a"}}`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuery(args)
			if err != nil {
				return err
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			docs, err := s.collection(args[0]).Find(cmd.Context(), q, opts.params())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), docs)
		},
	}
	opts.register(cmd)

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "remove <collection> [json-query]",
		Short: "Remove the documents matching a query and print them",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuery(args)
			if err != nil {
				return err
			}

			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			docs, err := s.collection(args[0]).Remove(cmd.Context(), q, opts.params())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), docs)
		},
	}
	opts.register(cmd)

	return cmd
}

// NewDatabasesCommand creates the databases command.
func NewDatabasesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List the databases stored in the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			keys, err := s.store.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}
