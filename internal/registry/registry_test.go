package registry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpass/internal/permission"
	"gridpass/internal/registry"
	"gridpass/pkg/platform/sentinel"
)

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := registry.New(
		registry.Connector{ID: "at-eda"},
		registry.Connector{ID: "at-eda"},
	)
	require.Error(t, err)
}

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := registry.New(registry.Connector{Name: "nameless"})
	require.Error(t, err)
}

func TestGet(t *testing.T) {
	reg, err := registry.New(registry.Connector{ID: "at-eda", Name: "EDA (Austria)"})
	require.NoError(t, err)

	conn, err := reg.Get("at-eda")
	require.NoError(t, err)
	assert.Equal(t, "EDA (Austria)", conn.Name)

	_, err = reg.Get("xx-missing")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestDefaultConnectorsCarryHorizonValidators(t *testing.T) {
	reg := registry.Default()
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	// Four years back is past Austria's three year horizon but within
	// Denmark's five.
	end := now.AddDate(0, 0, -1)
	old := permission.Window{Start: now.AddDate(-4, 0, 0), End: &end}

	at, err := reg.Get("at-eda")
	require.NoError(t, err)
	assert.NotEmpty(t, at.Validators.Validate(old, now))

	dk, err := reg.Get("dk-energinet")
	require.NoError(t, err)
	assert.Empty(t, dk.Validators.Validate(old, now))

	es, err := reg.Get("es-datadis")
	require.NoError(t, err)
	assert.NotEmpty(t, es.Validators.Validate(old, now))
}
