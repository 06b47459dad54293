package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/rollup/internal/database"
)

// InitializeRepositories creates the repositories over the container's database.
func InitializeRepositories(container *Container, log zerolog.Logger) {
	conn := container.DB.Conn()
	container.ProjectRepo = database.NewProjectRepository(conn, log)
	container.MetricValueRepo = database.NewMetricValueRepository(conn, log)
	container.BudgetRepo = database.NewBudgetRepository(conn, log)
	container.SnapshotRepo = database.NewSnapshotRepository(conn, log)
}
