package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/alem-hub/study-engine/internal/application/command"
	"github.com/alem-hub/study-engine/internal/application/query"
	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

// handleReady runs the dependency checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type completeSessionRequest struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	SubjectID       string    `json:"subject_id"`
	TaskID          string    `json:"task_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int64     `json:"duration_seconds,omitempty"`
}

type completeSessionResponse struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	Duplicate       bool   `json:"duplicate"`
	Day             string `json:"day"`
	DurationSeconds int64  `json:"duration_seconds"`
	DayTotalSeconds int64  `json:"day_total_seconds,omitempty"`
	XPTotal         int64  `json:"xp_total"`
	Level           int    `json:"level"`
	LeveledUp       bool   `json:"leveled_up"`
	CurrentStreak   int    `json:"current_streak"`
	LongestStreak   int    `json:"longest_streak"`
	Streak          string `json:"streak"`
	TaskLinked      bool   `json:"task_linked"`
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	var req completeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "request body must be a JSON session completion")
		return
	}

	res, err := s.deps.CompleteSession.Handle(r.Context(), command.CompleteSessionCommand{
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		SubjectID:       req.SubjectID,
		TaskID:          req.TaskID,
		StartedAt:       req.StartedAt,
		EndedAt:         req.EndedAt,
		ReportedSeconds: req.DurationSeconds,
		CorrelationID:   getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, completeSessionResponse{
		SessionID:       res.SessionID,
		UserID:          res.UserID,
		Duplicate:       res.Duplicate,
		Day:             timeutil.FormatDay(res.Day),
		DurationSeconds: res.DurationSeconds,
		DayTotalSeconds: res.DayTotalSeconds,
		XPTotal:         res.XPTotal,
		Level:           res.Level,
		LeveledUp:       res.LeveledUp,
		CurrentStreak:   res.CurrentStreak,
		LongestStreak:   res.LongestStreak,
		Streak:          res.Streak,
		TaskLinked:      res.TaskLinked,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type profileResponse struct {
	UserID            string  `json:"user_id"`
	Username          string  `json:"username,omitempty"`
	XPTotal           int64   `json:"xp_total"`
	Level             int     `json:"level"`
	XPIntoLevel       int64   `json:"xp_into_level"`
	XPToNextLevel     int64   `json:"xp_to_next_level"`
	CurrentStreak     int     `json:"current_streak"`
	LongestStreak     int     `json:"longest_streak"`
	LastActiveDay     *string `json:"last_active_day,omitempty"`
	ShowInLeaderboard bool    `json:"show_in_leaderboard"`
	IsPublic          bool    `json:"is_public"`
}

func newProfileResponse(p *query.ProfileDTO) profileResponse {
	resp := profileResponse{
		UserID:            p.UserID,
		Username:          p.Username,
		XPTotal:           p.XPTotal,
		Level:             p.Level,
		XPIntoLevel:       p.XPIntoLevel,
		XPToNextLevel:     p.XPToNextLevel,
		CurrentStreak:     p.CurrentStreak,
		LongestStreak:     p.LongestStreak,
		ShowInLeaderboard: p.ShowInLeaderboard,
		IsPublic:          p.IsPublic,
	}
	if p.LastActiveDay != nil {
		day := timeutil.FormatDay(*p.LastActiveDay)
		resp.LastActiveDay = &day
	}
	return resp
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetProfile.Handle(r.Context(), query.GetProfileQuery{UserID: mux.Vars(r)["userID"]})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newProfileResponse(dto))
}

type updateSettingsRequest struct {
	Username          *string `json:"username"`
	ShowInLeaderboard *bool   `json:"show_in_leaderboard"`
	IsPublic          *bool   `json:"is_public"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "request body must be a JSON settings object")
		return
	}

	p, err := s.deps.UpdateSettings.Handle(r.Context(), command.UpdateProfileSettingsCommand{
		UserID:            mux.Vars(r)["userID"],
		Username:          req.Username,
		ShowInLeaderboard: req.ShowInLeaderboard,
		IsPublic:          req.IsPublic,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newProfileResponse(query.NewProfileDTO(p, s.levelPolicy())))
}

type dailySummaryResponse struct {
	Date         string `json:"date"`
	TotalSeconds int64  `json:"total_seconds"`
}

type dailySummariesResponse struct {
	UserID       string                 `json:"user_id"`
	From         string                 `json:"from"`
	To           string                 `json:"to"`
	TotalSeconds int64                  `json:"total_seconds"`
	ActiveDays   int                    `json:"active_days"`
	Days         []dailySummaryResponse `json:"days"`
}

func (s *Server) handleGetDailySummaries(w http.ResponseWriter, r *http.Request) {
	q := query.GetDailySummariesQuery{
		UserID:   mux.Vars(r)["userID"],
		FillGaps: getQueryParamBool(r, "fill_gaps"),
	}

	var err error
	if q.From, err = timeutil.ParseDay(r.URL.Query().Get("from")); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
		return
	}
	if q.To, err = timeutil.ParseDay(r.URL.Query().Get("to")); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD")
		return
	}

	dto, err := s.deps.GetDailySummaries.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	days := make([]dailySummaryResponse, 0, len(dto.Days))
	for _, d := range dto.Days {
		days = append(days, dailySummaryResponse{Date: timeutil.FormatDay(d.Date), TotalSeconds: d.TotalSeconds})
	}
	writeJSON(w, r, http.StatusOK, dailySummariesResponse{
		UserID:       dto.UserID,
		From:         timeutil.FormatDay(dto.From),
		To:           timeutil.FormatDay(dto.To),
		TotalSeconds: dto.TotalSeconds,
		ActiveDays:   dto.ActiveDays,
		Days:         days,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type entryResponse struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	Username     string `json:"username,omitempty"`
	Level        int    `json:"level"`
	TotalSeconds int64  `json:"total_seconds"`
}

func newEntryResponse(e leaderboard.Entry) entryResponse {
	return entryResponse{
		Rank:         int(e.Rank),
		UserID:       e.UserID.String(),
		Username:     e.Username,
		Level:        e.Level.Int(),
		TotalSeconds: e.TotalSeconds,
	}
}

type leaderboardResponse struct {
	Period     string          `json:"period"`
	SnapshotID string          `json:"snapshot_id"`
	AsOf       time.Time       `json:"as_of"`
	AsOfDay    string          `json:"as_of_day"`
	TotalCount int             `json:"total_count"`
	Stale      bool            `json:"stale"`
	LastError  string          `json:"last_error,omitempty"`
	Entries    []entryResponse `json:"entries"`
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetLeaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Period: mux.Vars(r)["period"],
		Limit:  getQueryParamInt(r, "limit", 0),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	entries := make([]entryResponse, 0, len(dto.Entries))
	for _, e := range dto.Entries {
		entries = append(entries, newEntryResponse(e))
	}
	writeJSON(w, r, http.StatusOK, leaderboardResponse{
		Period:     dto.Period.String(),
		SnapshotID: dto.SnapshotID,
		AsOf:       dto.AsOf,
		AsOfDay:    timeutil.FormatDay(dto.AsOfDay),
		TotalCount: dto.TotalCount,
		Stale:      dto.Stale,
		LastError:  dto.LastError,
		Entries:    entries,
	})
}

type userRankResponse struct {
	Period     string        `json:"period"`
	AsOf       time.Time     `json:"as_of"`
	AsOfDay    string        `json:"as_of_day"`
	TotalCount int           `json:"total_count"`
	Entry      entryResponse `json:"entry"`
}

func (s *Server) handleGetUserRank(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dto, err := s.deps.GetUserRank.Handle(r.Context(), query.GetUserRankQuery{
		Period: vars["period"],
		UserID: vars["userID"],
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, userRankResponse{
		Period:     dto.Period.String(),
		AsOf:       dto.AsOf,
		AsOfDay:    timeutil.FormatDay(dto.AsOfDay),
		TotalCount: dto.TotalCount,
		Entry:      newEntryResponse(dto.Entry),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type refreshResultResponse struct {
	Period     string `json:"period"`
	OK         bool   `json:"ok"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Entries    int    `json:"entries"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "refresh_unavailable", "leaderboard refresh is not available in this process")
		return
	}

	raw := mux.Vars(r)["period"]
	var (
		results []leaderboard.RefreshResult
		err     error
	)
	if raw == "all" {
		results, err = s.deps.Refresher.RefreshAll(r.Context())
	} else {
		period, perr := leaderboard.ParsePeriod(raw)
		if perr != nil {
			s.writeDomainError(w, r, perr)
			return
		}
		start := time.Now()
		info, rerr := s.deps.Refresher.Refresh(r.Context(), period)
		results = []leaderboard.RefreshResult{{Period: period, Snapshot: info, Duration: time.Since(start), Err: rerr}}
		err = rerr
	}

	out := make([]refreshResultResponse, 0, len(results))
	for _, res := range results {
		item := refreshResultResponse{
			Period:     res.Period.String(),
			OK:         res.Err == nil,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Snapshot != nil {
			item.SnapshotID = res.Snapshot.ID
			item.Entries = res.Snapshot.EntryCount
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, r, status, out)
}

type refreshStatusResponse struct {
	Period          string     `json:"period"`
	State           string     `json:"state"`
	InFlight        int        `json:"in_flight"`
	LastSnapshotID  string     `json:"last_snapshot_id,omitempty"`
	LastEntryCount  int        `json:"last_entry_count"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	LastDurationMS  int64      `json:"last_duration_ms"`
	LastFailedAt    *time.Time `json:"last_failed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	Refreshes       int64      `json:"refreshes"`
	Failures        int64      `json:"failures"`
	Stale           bool       `json:"stale"`
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Statuses == nil {
		writeJSON(w, r, http.StatusOK, []refreshStatusResponse{})
		return
	}

	statuses := s.deps.Statuses.Statuses()
	out := make([]refreshStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		item := refreshStatusResponse{
			Period:         st.Period.String(),
			State:          string(st.State),
			InFlight:       st.InFlight,
			LastSnapshotID: st.LastSnapshotID,
			LastEntryCount: st.LastEntryCount,
			LastDurationMS: st.LastDuration.Milliseconds(),
			LastError:      st.LastError,
			Refreshes:      st.Refreshes,
			Failures:       st.Failures,
			Stale:          st.Stale(),
		}
		if !st.LastRefreshedAt.IsZero() {
			t := st.LastRefreshedAt
			item.LastRefreshedAt = &t
		}
		if !st.LastFailedAt.IsZero() {
			t := st.LastFailedAt
			item.LastFailedAt = &t
		}
		out = append(out, item)
	}
	writeJSON(w, r, http.StatusOK, out)
}

type jobRunResponse struct {
	Job         string    `json:"job"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Manual      bool      `json:"manual"`
}

type jobResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schedule    string          `json:"schedule"`
	Running     bool            `json:"running"`
	LastRun     *time.Time      `json:"last_run,omitempty"`
	NextRun     *time.Time      `json:"next_run,omitempty"`
	RunCount    int64           `json:"run_count"`
	FailCount   int64           `json:"fail_count"`
	LastResult  *jobRunResponse `json:"last_result,omitempty"`
}

type jobsResponse struct {
	Jobs        []jobResponse    `json:"jobs"`
	History     []jobRunResponse `json:"history"`
	Executions  int64            `json:"executions"`
	Failures    int64            `json:"failures"`
	SuccessRate float64          `json:"success_rate"`
	AvgDuration int64            `json:"avg_duration_ms"`
}

func toJobRun(r scheduler.JobResult) jobRunResponse {
	out := jobRunResponse{
		Job:         r.JobName,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMS:  r.Duration.Milliseconds(),
		Success:     r.Success,
		Manual:      r.Manual,
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return out
}

func toJob(info scheduler.JobInfo) jobResponse {
	out := jobResponse{
		Name:        info.Name,
		Description: info.Description,
		Schedule:    info.Schedule,
		Running:     info.Running,
		RunCount:    info.RunCount,
		FailCount:   info.FailCount,
	}
	if !info.LastRun.IsZero() {
		t := info.LastRun
		out.LastRun = &t
	}
	if !info.NextRun.IsZero() {
		t := info.NextRun
		out.NextRun = &t
	}
	if info.LastResult != nil {
		last := toJobRun(*info.LastResult)
		out.LastResult = &last
	}
	return out
}

// handleListJobs reports the scheduler's jobs, recent runs and totals.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	infos := s.deps.Jobs.ListJobs()
	history := s.deps.Jobs.GetHistory(getQueryParamInt(r, "history", 20))
	metrics := s.deps.Jobs.Metrics().Snapshot()

	out := jobsResponse{
		Jobs:        make([]jobResponse, 0, len(infos)),
		History:     make([]jobRunResponse, 0, len(history)),
		Executions:  metrics.TotalExecutions,
		Failures:    metrics.TotalFailures,
		SuccessRate: metrics.SuccessRate,
		AvgDuration: metrics.AverageDuration.Milliseconds(),
	}
	for _, info := range infos {
		out.Jobs = append(out.Jobs, toJob(info))
	}
	for _, run := range history {
		out.History = append(out.History, toJobRun(run))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Jobs.GetJobInfo(mux.Vars(r)["name"])
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toJob(*info))
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps the error taxonomy onto status codes: validation 400,
// missing 404, exhausted concurrency retries 409, everything else 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case shared.IsValidation(err):
		status, code = http.StatusBadRequest, "validation_error"
	case shared.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case shared.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	}

	if status != http.StatusInternalServerError {
		writeJSONError(w, r, status, code, err.Error())
		return
	}

	logger.FromContext(r.Context()).Error("request failed",
		logger.String("path", r.URL.Path),
		logger.Err(err),
	)
	writeJSONError(w, r, status, code, "internal error")
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// getQueryParamInt extracts an integer query parameter with a default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getQueryParamBool extracts a boolean query parameter.
func getQueryParamBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func (s *Server) levelPolicy() shared.LevelPolicy {
	if s.config.LevelPolicy.SecondsPerLevel > 0 {
		return s.config.LevelPolicy
	}
	return shared.DefaultLevelPolicy()
}
