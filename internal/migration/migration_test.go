package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/cardreport/pkg/db"
)

func TestRunCreatesUsageTable(t *testing.T) {
	conn, err := db.Open(db.Config{
		Type: "sqlite",
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), conn, false))
	assert.True(t, conn.Migrator().HasTable("usage_records"))
	assert.False(t, conn.Migrator().HasTable("report_documents"))

	require.NoError(t, Run(context.Background(), conn, true))
	assert.True(t, conn.Migrator().HasTable("report_documents"))
}

func TestRunRequiresConnection(t *testing.T) {
	assert.Error(t, Run(context.Background(), nil, true))
}

func TestEmbeddedMigrationsPairUp(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql"} {
		for _, set := range []Set{UsageSet, ReportSet} {
			t.Run(dialect+"/"+set.Name, func(t *testing.T) {
				src, err := Source(dialect, set)
				require.NoError(t, err)
				defer src.Close()

				version, err := src.First()
				require.NoError(t, err)
				assert.Equal(t, uint(1), version)

				count := 0
				for {
					up, _, err := src.ReadUp(version)
					require.NoError(t, err, "up %d", version)
					body, err := io.ReadAll(up)
					require.NoError(t, err)
					_ = up.Close()
					assert.Equal(t, 1, strings.Count(string(body), ";"), "one statement per file, version %d", version)

					down, _, err := src.ReadDown(version)
					require.NoError(t, err, "down %d", version)
					_ = down.Close()

					count++
					next, err := src.Next(version)
					if errors.Is(err, fs.ErrNotExist) {
						break
					}
					require.NoError(t, err)
					version = next
				}
				assert.Positive(t, count)
			})
		}
	}
}

func TestSourceUnknownDialect(t *testing.T) {
	_, err := Source("oracle", UsageSet)
	assert.Error(t, err)
}
