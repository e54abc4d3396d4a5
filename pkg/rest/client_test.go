package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPresets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/presets", r.URL.Path)
		json.NewEncoder(w).Encode([]Preset{
			{ID: "p1", Name: "dawn chorus"},
			{ID: "p2", Name: "deep cave"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	presets, err := c.ListPresets(context.Background())
	require.NoError(t, err)
	require.Len(t, presets, 2)
	assert.Equal(t, "dawn chorus", presets[0].Name)
}

func TestGetPreset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/presets/p1", r.URL.Path)
		json.NewEncoder(w).Encode(Preset{
			ID:       "p1",
			Name:     "dawn chorus",
			Params:   map[string]float64{"granular.density": 0.6},
			Elements: []float64{0.5, 0.2, -0.1, 0},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	preset, err := c.GetPreset(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "dawn chorus", preset.Name)
	assert.InDelta(t, 0.6, preset.Params["granular.density"], 1e-9)
	assert.Len(t, preset.Elements, 4)

	_, err = c.GetPreset(context.Background(), "")
	assert.Error(t, err)
}

func TestSavePreset(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/presets", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var in Preset
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			in.ID = "assigned"
			json.NewEncoder(w).Encode(in)
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		stored, err := c.SavePreset(context.Background(), Preset{Name: "night rain"})
		require.NoError(t, err)
		assert.Equal(t, "assigned", stored.ID)
		assert.Equal(t, "night rain", stored.Name)
	})

	t.Run("Update", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/v1/presets/p9", r.URL.Path)
			json.NewEncoder(w).Encode(Preset{ID: "p9", Name: "renamed"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		stored, err := c.SavePreset(context.Background(), Preset{ID: "p9", Name: "renamed"})
		require.NoError(t, err)
		assert.Equal(t, "p9", stored.ID)
	})

	t.Run("Validation", func(t *testing.T) {
		c := NewClient("http://unreachable.invalid")

		_, err := c.SavePreset(context.Background(), Preset{})
		assert.Error(t, err, "missing name")

		_, err = c.SavePreset(context.Background(), Preset{Name: "x", Elements: []float64{1, 2}})
		assert.Error(t, err, "wrong element count")
	})
}

func TestDeletePreset(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/presets/p1", r.URL.Path)
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.DeletePreset(context.Background(), "p1"))
	assert.True(t, deleted)
}

func TestApplyPresetAndScene(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.ApplyPreset(context.Background(), "p1"))
	require.NoError(t, c.ApplyScene(context.Background(), "s1"))
	assert.Equal(t, []string{"/v1/presets/p1/apply", "/v1/scenes/s1/apply"}, paths)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		json.NewEncoder(w).Encode(SystemStatus{
			Firmware:      "2.4.1",
			UptimeSeconds: 86400,
			AudioCPU:      0.31,
			ActiveScene:   "forest",
			Sessions:      1,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.4.1", status.Firmware)
	assert.Equal(t, uint64(86400), status.UptimeSeconds)
	assert.Equal(t, "forest", status.ActiveScene)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such preset", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetPreset(context.Background(), "missing")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "no such preset")
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL)
	_, err := c.Status(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
