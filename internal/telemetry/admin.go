package telemetry

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mobile-manipulator/internal/httputil"
)

// AttachAdminRoutes registers live SQL, run listing and backup routes under
// /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Telemetry DB",
	})
	debug.Handle("tailsql/", "SQL live debugging of recorded runs", tsql.NewMux())

	debug.HandleFunc("telemetry-runs", "recorded control runs (JSON)", func(w http.ResponseWriter, r *http.Request) {
		limit, err := httputil.QueryInt(r, "limit", 100)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		runs, err := db.Runs(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, runs)
	})

	debug.HandleSilentFunc("telemetry-task-errors", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		runID := r.URL.Query().Get("run")
		if runID == "" {
			httputil.BadRequest(w, "missing run")
			return
		}
		records, err := db.TaskErrors(runID, r.URL.Query().Get("task"))
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if len(records) == 0 {
			httputil.NotFound(w, fmt.Sprintf("no task errors recorded for run %s", runID))
			return
		}
		httputil.WriteJSONOK(w, records)
	})

	debug.Handle("telemetry-backup", "Create and download a backup of the telemetry database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("telemetry-backup-%d.db", time.Now().UnixNano()))
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				logf("failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			logf("backup copy failed: %v", err)
		}
	}))
	return nil
}
