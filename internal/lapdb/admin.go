package lapdb

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/gatetimer/internal/httputil"
	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/security"
)

// AttachAdminRoutes mounts the journal's debug pages on mux: a tailsql
// console, the laps of a session as JSON, the recent sessions, and a
// gzip backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("[lapdb] failed to create tailsql server: %v", err)
	} else {
		tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
			Label: "Lap journal",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.HandleFunc("laps", "Journalled laps (?session=ID, default latest; &download=1)", db.handleLaps)
	debug.HandleFunc("sessions", "Recent race sessions (?n=20)", db.handleSessions)
	debug.Handle("backup", "Create and download a backup of the lap journal now", http.HandlerFunc(db.handleBackup))
}

func (db *DB) handleLaps(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		recent, err := db.RecentSessions(1)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if len(recent) == 0 {
			httputil.WriteJSONOK(w, []Lap{})
			return
		}
		session = recent[0].ID
	}
	laps, err := db.ListLaps(session)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if r.URL.Query().Get("download") != "" {
		name := "laps-" + security.SanitizeFilename(session) + ".json"
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	}
	httputil.WriteJSONOK(w, laps)
}

func (db *DB) handleSessions(w http.ResponseWriter, r *http.Request) {
	n := 20
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			httputil.BadRequest(w, "n must be a positive integer")
			return
		}
		n = v
	}
	sessions, err := db.RecentSessions(n)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "lapdb-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("laps-%d.db", db.clock.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if err := db.Backup(backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("[lapdb] backup copy failed: %v", err)
	}
}
