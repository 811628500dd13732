package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/user-management/internal"
	userDatamodel "github.com/frahmantamala/user-management/internal/core/datamodel/user"
	"github.com/frahmantamala/user-management/internal/lock"
	"github.com/frahmantamala/user-management/internal/user"
	userPostgres "github.com/frahmantamala/user-management/internal/user/postgres"
	"github.com/frahmantamala/user-management/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample users for development and testing purposes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return runSeed(ctx)
	},
}

type seedUser struct {
	dto        user.CreateUserDTO
	role       string
	permission bool
}

var seedUsers = []seedUser{
	{
		dto: user.CreateUserDTO{
			Email:     "fadhil@mail.com",
			UserName:  "fadhil",
			FirstName: "Fadhil",
			LastName:  "Rahman",
		},
	},
	{
		dto: user.CreateUserDTO{
			Email:     "padil@mail.com",
			UserName:  "padil",
			FirstName: "Padil",
			LastName:  "Admin",
		},
		role:       "admin",
		permission: true,
	},
}

func runSeed(ctx context.Context) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	lg := logger.L()

	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		return err
	}

	if clearData {
		if err := clearTables(gormDB); err != nil {
			return err
		}
		lg.Info("cleared user tables")
	}

	svc := user.NewService(
		userPostgres.NewUserRepository(gormDB),
		user.NewBcryptHasher(cfg.Security.BCryptCost),
		lock.NewLocal(),
		lg,
	)

	const password = "password"
	for _, su := range seedUsers {
		su.dto.Password = password
		su.dto.ConfirmPassword = password

		created, err := svc.Create(ctx, su.dto)
		if errors.Is(err, internal.ErrDuplicateEmail) || errors.Is(err, internal.ErrDuplicateUserName) {
			lg.Info("seed user already exists", "user_name", su.dto.UserName)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", su.dto.UserName, err)
		}

		if su.role != "" || su.permission {
			role, permission := su.role, su.permission
			if _, err := svc.Update(ctx, created.ID, user.UpdateUserDTO{Role: &role, Permission: &permission}); err != nil {
				return fmt.Errorf("grant %s: %w", su.dto.UserName, err)
			}
		}
		lg.Info("seeded user", "user_id", created.ID, "user_name", created.UserName)
	}

	return nil
}

func clearTables(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&userDatamodel.AuditEntry{},
			&userDatamodel.RetiredPassword{},
			&userDatamodel.User{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}
