package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm/db"
	"github.com/wbrown/janus-realm/realm/query"
)

func newSchemaCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSchema()
			if err != nil {
				return err
			}
			out, err := s.EncodeYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// where builds a query from an optional text predicate.
func where(r *db.Realm, typeName string, args []string) *db.Query {
	if len(args) == 0 {
		return r.Where(typeName)
	}
	return r.WherePredicate(typeName, strings.Join(args, " "))
}

func newCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count <type> [predicate]",
		Short: "Count the objects matching a predicate",
		Example: `  realm count Dog
  realm count Owner 'dogs.age > 5'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()

			n, err := where(r, args[0], args[1:]).Count()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newFindCommand(opts *RootOptions) *cobra.Command {
	var fields []string
	var width int

	cmd := &cobra.Command{
		Use:   "find <type> [predicate]",
		Short: "Print the objects matching a predicate as a table",
		Example: `  realm find Dog 'age >= 3 SORT(name ASC)'
  realm find Owner --fields name,cat`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := where(r, args[0], args[1:]).FindAll()
			if err != nil {
				return err
			}
			tf := db.NewTableFormatter()
			tf.MaxWidth = width
			out, err := tf.FormatResults(res, fields...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "columns to show (default all)")
	cmd.Flags().IntVar(&width, "width", 50, "maximum cell width, 0 for no limit")
	return cmd
}

func newAggregateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <min|max|sum|average> <type> <field> [predicate]",
		Short: "Aggregate a field over the objects matching a predicate",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := query.AggregateByName(args[0])
			if err != nil {
				return err
			}
			r, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()

			q := where(r, args[1], args[3:])
			var v interface{}
			switch fn.FunctionName() {
			case "min":
				v, err = q.Min(args[2])
			case "max":
				v, err = q.Max(args[2])
			case "sum":
				v, err = q.Sum(args[2])
			default:
				v, err = q.Average(args[2])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), query.FormatAggregate(fn, args[2], v))
			return nil
		},
	}
}

func newDemoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Load the demo data if the realm is empty and run sample queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Schema != "" {
				return fmt.Errorf("demo uses the built-in schema; drop --schema")
			}
			r, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()
			return runDemo(cmd, r)
		},
	}
}

func runDemo(cmd *cobra.Command, r *db.Realm) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== Janus Realm Demo ===")

	empty, err := r.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		fmt.Fprintln(out, "\nAdding test data...")
		if err := r.ExecuteTransaction(loadDemo); err != nil {
			return err
		}
	}

	queries := []struct {
		title string
		typ   string
		pred  string
	}{
		{"All dogs by age", fixtures.Dog, "SORT(age ASC)"},
		{"Dogs older than 5 owned by Tim", fixtures.Dog, `age > 5 AND owner.name == "Tim"`},
		{"Owners with a dog aged 10", fixtures.Owner, "dogs.age == 10"},
		{"Cats without a name", fixtures.Cat, "name == nil"},
	}
	for _, q := range queries {
		res, err := r.WherePredicate(q.typ, q.pred).FindAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s:\n%s\n", q.title, db.ResultsString(res))
	}

	avg, err := r.Where(fixtures.Dog).Average("age")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nAverage dog age: %.2f\n", avg)
	return nil
}

func loadDemo(r *db.Realm) error {
	owner := func(name string) (*db.Object, error) {
		o, err := r.CreateObject(fixtures.Owner)
		if err != nil {
			return nil, err
		}
		return o, o.Set("name", name)
	}
	animal := func(typ string, name interface{}, age int, o *db.Object) (*db.Object, error) {
		a, err := r.CreateObject(typ)
		if err != nil {
			return nil, err
		}
		for field, v := range map[string]interface{}{"name": name, "age": age, "hasTail": true} {
			if err := a.Set(field, v); err != nil {
				return nil, err
			}
		}
		return a, a.SetObject("owner", o)
	}

	tim, err := owner("Tim")
	if err != nil {
		return err
	}
	ann, err := owner("Ann")
	if err != nil {
		return err
	}
	dogs := []struct {
		name string
		age  int
		o    *db.Object
	}{
		{"Pluto", 5, tim},
		{"Fido", 10, tim},
		{"Rex", 3, ann},
		{"Bella", 7, ann},
	}
	for _, d := range dogs {
		dog, err := animal(fixtures.Dog, d.name, d.age, d.o)
		if err != nil {
			return err
		}
		list, err := d.o.List("dogs")
		if err != nil {
			return err
		}
		if err := list.Add(dog); err != nil {
			return err
		}
	}
	blackie, err := animal(fixtures.Cat, "Blackie", 12, tim)
	if err != nil {
		return err
	}
	stray, err := animal(fixtures.Cat, nil, 2, ann)
	if err != nil {
		return err
	}
	if err := tim.SetObject("cat", blackie); err != nil {
		return err
	}
	return ann.SetObject("cat", stray)
}
