package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/utils"
)

func Test_tokenCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"12", "LIBRARIAN", "--secret", "dev", "--ttl", "5m"})
	require.NoError(t, cmd.Execute())

	claims, err := utils.ParseAccessToken("dev", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)
	assert.Equal(t, "LIBRARIAN", claims.Role)
}

func Test_tokenCmd_RejectsUnknownRole(t *testing.T) {
	cmd := tokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"12", "OWNER", "--secret", "dev"})
	assert.ErrorContains(t, cmd.Execute(), "unknown role")
}

func Test_migrateCmd_Print(t *testing.T) {
	var out bytes.Buffer
	cmd := migrateCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--print"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "CREATE TABLE IF NOT EXISTS books")
}

func Test_writeQueue(t *testing.T) {
	until := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	reserved := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := []model.Reservation{
		{ID: 5, UserID: 3, Status: model.ReservationAvailable, ReservedAt: reserved, AvailableUntil: &until},
		{ID: 6, UserID: 4, Status: model.ReservationPending, ReservedAt: reserved, QueuePosition: 1},
	}
	var out bytes.Buffer
	require.NoError(t, writeQueue(&out, q))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "AVAILABLE")
	assert.Contains(t, lines[1], "2026-03-04T10:00:00Z")
	assert.True(t, strings.HasPrefix(lines[2], "1 "))
}
