package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/choices"
	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/internal/database"
	"github.com/CosmoTheDev/deltascan/internal/repository"
)

// doctorProbeProject is looked up to check the backend credentials; a
// "does not exist" answer proves they were accepted.
const doctorProbeProject = "deltascan-doctor-probe"

var doctorRepoURL string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify configuration, backend access and the run ledger",
	Long: `Checks that the configuration is valid, the scan backend accepts the
configured credentials, the run ledger database can be reached and the
snippet choice file parses.

Use --repo to also resolve the default branch of a repository with the
configured git credentials.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorRepoURL, "repo", "",
		"Repository URL whose default branch should be resolved")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println(titleStyle.Render("deltascan doctor"))
	fmt.Println()

	fmt.Print("Configuration ............ ")
	if err := cfg.Validate(); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		fmt.Println("OK")
	}

	fmt.Print("Scan backend ............. ")
	switch {
	case cfg.Backend.ServerURL == "":
		fmt.Println("SKIP (backend.server_url not set)")
		allOK = false
	default:
		_, err := backend.New(cfg.Backend).GetProject(ctx, doctorProbeProject)
		switch {
		case err == nil, errors.Is(err, backend.ErrNotFound):
			fmt.Printf("OK (%s as %s)\n", cfg.Backend.ServerURL, cfg.Backend.User)
		default:
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		}
	}

	fmt.Print("Run ledger ............... ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", db.Driver())
		}
		db.Close()
	}

	fmt.Print("Snippet choices .......... ")
	if f, err := choices.Load(cfg.Choices.File); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else if cfg.Choices.File == "" {
		fmt.Println("none configured")
	} else {
		fmt.Printf("OK (%d repositories)\n", len(f.Repositories))
	}

	fmt.Print("Git credentials .......... ")
	fmt.Printf("%d GitHub, %d GitLab\n", len(cfg.Git.GitHub), len(cfg.Git.GitLab))

	if doctorRepoURL != "" {
		fmt.Print("Repository host .......... ")
		provider, err := repository.DetectProvider(doctorRepoURL)
		if err != nil {
			provider = "plain git"
		}
		if _, ok := repository.TokenFor(cfg.Git, doctorRepoURL); ok {
			fmt.Printf("%s, token configured\n", provider)
		} else {
			fmt.Printf("%s, no token (remote HEAD lookup)\n", provider)
		}

		fmt.Print("Default branch ........... ")
		branch, err := repository.NewBranchResolver(cfg.Git).DefaultBranch(ctx, doctorRepoURL)
		if err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", branch)
		}
	}

	fmt.Println()
	if allOK {
		fmt.Println(okStyle.Render("All checks passed, deltascan is ready."))
	} else {
		fmt.Println(warningStyle.Render("Some checks failed, see 'deltascan config show'."))
	}
	return nil
}
