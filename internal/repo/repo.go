package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"spotline/internal/config"
	"spotline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// SaveProjectTx persists a full aggregate snapshot. The project row is
// upserted and the shot rows replaced wholesale; shot ordering is the `ord`
// column.
func (r Repo) SaveProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,brand_name,brand_tagline,brand_primary,brand_secondary,brand_logo_url,final_video_url,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status,
  brand_name=excluded.brand_name, brand_tagline=excluded.brand_tagline,
  brand_primary=excluded.brand_primary, brand_secondary=excluded.brand_secondary,
  brand_logo_url=excluded.brand_logo_url, final_video_url=excluded.final_video_url,
  updated_at=excluded.updated_at`,
		p.ID, p.Name, p.Status, p.Brand.Name, p.Brand.Tagline, p.Brand.PrimaryColor, p.Brand.SecondaryColor,
		nullablePtr(p.Brand.LogoURL), nullablePtr(p.FinalVideoURL), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shots WHERE project_id=?`, p.ID); err != nil {
		return fmt.Errorf("clear shots: %w", err)
	}
	for _, sh := range p.Shots {
		refs, err := json.Marshal(sh.ReferenceImages)
		if err != nil {
			return fmt.Errorf("marshal reference images: %w", err)
		}
		if sh.ReferenceImages == nil {
			refs = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO shots(id,project_id,ord,prompt,negative_prompt,duration,resolution,aspect_ratio,reference_images_json,first_frame,last_frame,status,progress,video_url,thumbnail_url,error)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			sh.ID, p.ID, sh.Order, sh.Prompt, sh.NegativePrompt, sh.Duration, sh.Resolution, sh.AspectRatio,
			string(refs), nullablePtr(sh.FirstFrame), nullablePtr(sh.LastFrame), sh.Status, sh.Progress,
			nullablePtr(sh.VideoURL), nullablePtr(sh.ThumbnailURL), nullablePtr(sh.Error))
		if err != nil {
			return fmt.Errorf("save shot %s: %w", sh.ID, err)
		}
	}
	vo := p.Voiceover
	_, err = tx.ExecContext(ctx, `INSERT INTO voiceovers(project_id,script,voice_id,voice_name,stability,similarity_boost,style,status,progress,audio_url,error)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET script=excluded.script, voice_id=excluded.voice_id,
  voice_name=excluded.voice_name, stability=excluded.stability, similarity_boost=excluded.similarity_boost,
  style=excluded.style, status=excluded.status, progress=excluded.progress,
  audio_url=excluded.audio_url, error=excluded.error`,
		p.ID, vo.Script, vo.VoiceID, vo.VoiceName, vo.Stability, vo.SimilarityBoost, vo.Style,
		vo.Status, vo.Progress, nullablePtr(vo.AudioURL), nullablePtr(vo.Error))
	if err != nil {
		return fmt.Errorf("save voiceover: %w", err)
	}
	return nil
}

// GetProject loads the full aggregate: project row, shots in timeline
// order, and the voiceover.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,status,brand_name,brand_tagline,brand_primary,brand_secondary,brand_logo_url,final_video_url,created_at,updated_at FROM projects WHERE id=?`, id)
	p, err := scanProject(row)
	if err != nil {
		return domain.Project{}, err
	}
	p.Shots, err = r.listShots(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	p.Voiceover, err = r.getVoiceover(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SingleProject returns the only project in the workspace, erroring when
// zero or several exist.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.Project{}, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return domain.Project{}, err
	}
	if len(ids) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(ids) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return r.GetProject(ctx, ids[0])
}

// ListProjects returns project headers without shots or voiceovers.
func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,brand_name,brand_tagline,brand_primary,brand_secondary,brand_logo_url,final_video_url,created_at,updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var logo, final sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.Brand.Name, &p.Brand.Tagline, &p.Brand.PrimaryColor, &p.Brand.SecondaryColor, &logo, &final, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Brand.LogoURL = optString(logo)
	p.FinalVideoURL = optString(final)
	return p, nil
}

func scanProjectRows(rows *sql.Rows) (domain.Project, error) {
	var p domain.Project
	var logo, final sql.NullString
	err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Brand.Name, &p.Brand.Tagline, &p.Brand.PrimaryColor, &p.Brand.SecondaryColor, &logo, &final, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Brand.LogoURL = optString(logo)
	p.FinalVideoURL = optString(final)
	return p, nil
}

func (r Repo) listShots(ctx context.Context, projectID string) ([]domain.Shot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ord,prompt,negative_prompt,duration,resolution,aspect_ratio,reference_images_json,first_frame,last_frame,status,progress,video_url,thumbnail_url,error FROM shots WHERE project_id=? ORDER BY ord ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shots []domain.Shot
	for rows.Next() {
		var sh domain.Shot
		var refs string
		var firstFrame, lastFrame, videoURL, thumbURL, errMsg sql.NullString
		if err := rows.Scan(&sh.ID, &sh.Order, &sh.Prompt, &sh.NegativePrompt, &sh.Duration, &sh.Resolution, &sh.AspectRatio, &refs, &firstFrame, &lastFrame, &sh.Status, &sh.Progress, &videoURL, &thumbURL, &errMsg); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(refs), &sh.ReferenceImages); err != nil {
			return nil, fmt.Errorf("shot %s reference images: %w", sh.ID, err)
		}
		sh.FirstFrame = optString(firstFrame)
		sh.LastFrame = optString(lastFrame)
		sh.VideoURL = optString(videoURL)
		sh.ThumbnailURL = optString(thumbURL)
		sh.Error = optString(errMsg)
		shots = append(shots, sh)
	}
	return shots, rows.Err()
}

func (r Repo) getVoiceover(ctx context.Context, projectID string) (domain.Voiceover, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT script,voice_id,voice_name,stability,similarity_boost,style,status,progress,audio_url,error FROM voiceovers WHERE project_id=?`, projectID)
	var vo domain.Voiceover
	var audioURL, errMsg sql.NullString
	err := row.Scan(&vo.Script, &vo.VoiceID, &vo.VoiceName, &vo.Stability, &vo.SimilarityBoost, &vo.Style, &vo.Status, &vo.Progress, &audioURL, &errMsg)
	if err == sql.ErrNoRows {
		return domain.DefaultVoiceover(), nil
	}
	if err != nil {
		return vo, err
	}
	vo.AudioURL = optString(audioURL)
	vo.Error = optString(errMsg)
	return vo, nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	now := nowRFC3339()
	_, err = exec(`INSERT INTO project_configs(project_id,config_yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`,
		projectID, string(payload), now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return cfg, nil
}

// LatestEvents returns the most recent events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, projectID, evtType, entityKind, entityID)
}

// LatestEventsFrom pages backwards from an id cursor, newest first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter pages forwards from an id cursor, oldest first. The progress
// stream uses it to tail the journal.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
