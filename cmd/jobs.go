package cmd

import (
	"context"
	"fmt"

	"github.com/ragworks/ragline/internal/pipeline/repository"
	"github.com/ragworks/ragline/pkg/db"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	jobsID    string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List or inspect persisted processing jobs",
	Long: `List recent processing jobs, or show one job in detail.

Examples:
  ragline jobs
  ragline jobs --id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed`,
	Run: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().StringVar(&jobsID, "id", "", "Show a single job by id")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to list")
}

func runJobs(_ *cobra.Command, _ []string) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	ctx := context.Background()

	database, err := db.NewConnection()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func(database *db.DB) {
		if err := database.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}(database)

	repo := repository.NewJobRepository(database)

	if jobsID != "" {
		job, err := repo.GetJob(ctx, jobsID)
		if err != nil {
			logger.Fatal().Err(err).Str("job_id", jobsID).Msg("Failed to get job")
		}
		errText := ""
		if job.Error != nil {
			errText = *job.Error
		}
		fmt.Printf("id:       %s\nuser:     %s\nlocator:  %s\nstatus:   %s\nerror:    %s\ncreated:  %s\nupdated:  %s\n",
			job.ID, job.UserID, job.SourceLocator, job.Status, errText,
			job.CreatedAt.Format("2006-01-02 15:04:05"), job.UpdatedAt.Format("2006-01-02 15:04:05"))
		return
	}

	jobs, err := repo.ListJobs(ctx, jobsLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to list jobs")
	}
	for _, job := range jobs {
		fmt.Printf("%-36s  %-10s  %-19s  %s\n",
			job.ID, job.Status, job.CreatedAt.Format("2006-01-02 15:04:05"), job.SourceLocator)
	}
	fmt.Printf("%d jobs\n", len(jobs))
}
