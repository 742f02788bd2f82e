package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/repository/postgres"
	"github.com/nkiryanov/examaccess/internal/service/staffauth"
	"github.com/nkiryanov/examaccess/internal/testutil"
)

func noDotEnv() (string, error) {
	return os.TempDir(), nil
}

func noEnv(string) string {
	return ""
}

func Test_run(t *testing.T) {
	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noEnv, noDotEnv, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--secret-key", "secret",
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("fail without secret key", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noEnv, noDotEnv, []string{
			"--address", listenAddr,
		})

		require.Error(t, err, "on incorrect config should return error")
	})

	t.Run("fail on unknown environment", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noEnv, noDotEnv, []string{
			"--address", listenAddr,
			"--secret-key", "secret",
			"--environment", "staging",
		})

		require.Error(t, err)
	})
}

// Issue token and redeem it through real server backed by postgres
func Test_run_postgres(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)
	baseURL := "http://" + listenAddr

	storage := postgres.NewStorage(pg.Pool)
	exam, err := storage.Exam().CreateExam(t.Context(), models.Exam{
		Title:     "Final Python Exam",
		StartTime: time.Date(2030, 8, 25, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2030, 8, 25, 11, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	subject, err := storage.Subject().CreateSubject(t.Context(), models.Subject{
		Username:  "jdoe",
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
	})
	require.NoError(t, err)

	auth, err := staffauth.New(staffauth.Config{SecretKey: "secret"})
	require.NoError(t, err)
	credentials, _, err := auth.Issue(models.Caller{ID: "instructor-1", Staff: true}, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	stopped := make(chan error, 1)
	go func() {
		stopped <- run(ctx, noEnv, noDotEnv, []string{
			"--address", listenAddr,
			"--database", pg.DSN,
			"--secret-key", "secret",
		})
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-stopped, "server should stop without error")
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/api/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "server should start")

	// Issue
	body := fmt.Sprintf(`{"student_id": %d, "valid_minutes": 30}`, subject.ID)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, fmt.Sprintf("%s/api/exams/%d/generate-token", baseURL, exam.ID), strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+credentials)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))

	// Redeem twice: first succeeds, second is rejected
	first, err := http.Get(baseURL + "/api/access/" + issued.Token)
	require.NoError(t, err)
	_ = first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(baseURL + "/api/access/" + issued.Token)
	require.NoError(t, err)
	_ = second.Body.Close()
	assert.Equal(t, http.StatusForbidden, second.StatusCode)
}
