package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"campusbot/config"
	"campusbot/internal/adapter/lexical"
	"campusbot/internal/domain"
)

var recordsJSON bool

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Look up student records",
}

var studentsSearchCmd = &cobra.Command{
	Use:   "search <usn-or-name>",
	Short: "Find students by USN or name",
	Example: `  campusbot students search 1PI21CS001
  campusbot students search ananya`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx := loadIndex(GetConfig().Data.StudentCSV, GetConfig().Data.StudentFields)
		return printRecords(idx.Search(strings.Join(args, " ")), idx.Fields())
	},
}

var studentsYearCmd = &cobra.Command{
	Use:     "year <year>",
	Short:   "List students in a year",
	Example: `  campusbot students year final`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx := loadIndex(GetConfig().Data.StudentCSV, GetConfig().Data.StudentFields)
		return printRecords(idx.SearchByYear(args[0]), idx.Fields())
	},
}

var facultyCmd = &cobra.Command{
	Use:   "faculty",
	Short: "Look up faculty records",
}

var facultySearchCmd = &cobra.Command{
	Use:     "search <name>",
	Short:   "Find faculty members by name",
	Example: `  campusbot faculty search sharma`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx := loadIndex(GetConfig().Data.FacultyCSV, GetConfig().Data.FacultyFields)
		return printRecords(idx.Search(strings.Join(args, " ")), idx.Fields())
	},
}

func init() {
	rootCmd.AddCommand(studentsCmd, facultyCmd)
	studentsCmd.AddCommand(studentsSearchCmd, studentsYearCmd)
	facultyCmd.AddCommand(facultySearchCmd)
	studentsCmd.PersistentFlags().BoolVar(&recordsJSON, "json", false, "output as JSON")
	facultyCmd.PersistentFlags().BoolVar(&recordsJSON, "json", false, "output as JSON")
}

func loadIndex(patterns []string, fields config.FieldsConfig) *lexical.Index {
	idx, res := lexical.Load(resolveAll(GetRootDir(), patterns), fields, GetConfig().Router.YearAliases, GetLogger())
	if res.Files == 0 {
		fmt.Fprintf(os.Stderr, "Warning: no CSV files matched %s\n", strings.Join(patterns, ", "))
	}
	return idx
}

func printRecords(records []domain.Record, fields config.FieldsConfig) error {
	if recordsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []domain.Record{}
		}
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No matching records.")
		return nil
	}
	cols := fields.Display
	for i, rec := range records {
		if i > 0 {
			fmt.Println()
		}
		for _, col := range cols {
			fmt.Printf("%s: %s\n", col, rec.Get(col))
		}
	}
	fmt.Printf("\n%d record(s)\n", len(records))
	return nil
}
