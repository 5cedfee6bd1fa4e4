package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBindAddress verifies that the API bind address parses as host:port.
func CheckBindAddress(bind string) Result {
	const name = "API bind address"
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bind, err)}
	}
	return Result{Name: name, Passed: true, Detail: bind}
}

// CheckDatabase verifies that the database opens, has every table and passes
// SQLite's integrity check.
func CheckDatabase(ctx context.Context, st *store.Store) Result {
	const name = "Database"
	health, err := st.CheckHealth(ctx)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", health.DBPath, err)}
	case !health.DatabaseExists:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", health.DBPath)}
	case len(health.MissingTables) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: missing tables %s)", health.DBPath, strings.Join(health.MissingTables, ", "))}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: integrity check failed)", health.DBPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%d, %d workflows, %d documents)",
		health.DBPath, health.SchemaVersion, health.TotalWorkflows, health.TotalDocuments)}
}

// CheckHandlers verifies that every step of each definition has a handler
// and that handlers reporting health are ready.
func CheckHandlers(registry *stage.Registry, defs ...subworkflow.Definition) []Result {
	var results []Result
	for _, def := range defs {
		name := fmt.Sprintf("Handlers (%s)", def.Type)
		if missing := registry.Missing(def.StepNames()); len(missing) > 0 {
			results = append(results, Result{Name: name, Detail: "missing: " + strings.Join(missing, ", ")})
			continue
		}
		results = append(results, Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d steps registered", len(def.Steps))})
	}
	for _, h := range registry.HealthCheck(context.Background()) {
		results = append(results, Result{Name: "Handler " + h.Name, Passed: h.Ready, Detail: h.Detail})
	}
	return results
}

// CheckConditions verifies that every step condition names a known
// predicate. An unknown name always evaluates true, so the step would never
// be skipped.
func CheckConditions(defs ...subworkflow.Definition) []Result {
	results := make([]Result, 0, len(defs))
	for _, def := range defs {
		name := fmt.Sprintf("Conditions (%s)", def.Type)
		var unknown []string
		used := 0
		for _, step := range def.Steps {
			if step.Condition == "" {
				continue
			}
			used++
			if !subworkflow.KnownCondition(step.Condition) {
				unknown = append(unknown, fmt.Sprintf("%s on %s", step.Condition, step.Name))
			}
		}
		if len(unknown) > 0 {
			results = append(results, Result{Name: name, Detail: fmt.Sprintf("unknown: %s (known: %s)",
				strings.Join(unknown, ", "), strings.Join(subworkflow.Conditions(), ", "))})
			continue
		}
		results = append(results, Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d conditional steps", used)})
	}
	return results
}

// CheckDaemon probes GET /api/health on the configured bind address.
func CheckDaemon(ctx context.Context, bind, token string) Result {
	const name = "Daemon"
	if strings.TrimSpace(bind) == "" {
		return Result{Name: name, Detail: "API disabled (paths.api_bind is empty)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, "http://"+bind+"/api/health", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeDialError(err)}
	}
	defer resp.Body.Close()

	var payload struct {
		Status     string  `json:"status"`
		ActiveRuns []int64 `json:"active_runs"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("running on %s (%d active runs)", bind, len(payload.ActiveRuns))}
	case http.StatusServiceUnavailable:
		return Result{Name: name, Detail: fmt.Sprintf("running on %s but %s", bind, payload.Status)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (check paths.api_token)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
}

func summarizeDialError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "not running"
	}
	return err.Error()
}
