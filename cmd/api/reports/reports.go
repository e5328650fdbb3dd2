package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	"github.com/mark3748/chamados-go/internal/chamados"
	reportspkg "github.com/mark3748/chamados-go/internal/reports"
	"github.com/mark3748/chamados-go/internal/s3"
)

const snapshotPrefix = "snapshots/"

type periodReq struct {
	From string   `json:"from" form:"from" binding:"required,datetime=2006-01-02"`
	To   string   `json:"to" form:"to" binding:"required,datetime=2006-01-02"`
	UBS  []string `json:"ubs" form:"ubs"`
}

func build(c *gin.Context, a *app.App, in periodReq) (reportspkg.Report, bool) {
	loc := a.Cal.Location
	from, _ := time.ParseInLocation("2006-01-02", in.From, loc)
	to, _ := time.ParseInLocation("2006-01-02", in.To, loc)
	ubs := []string{}
	for _, u := range in.UBS {
		if u = strings.TrimSpace(u); u != "" {
			ubs = append(ubs, u)
		}
	}
	ctx := c.Request.Context()
	var records []chamados.Record
	if a.DB != nil {
		var err error
		records, err = a.Store.List(ctx, chamados.Filter{UBS: ubs})
		if err != nil {
			app.AbortStoreError(c, err)
			return reportspkg.Report{}, false
		}
	}
	p := a.Policy(ctx)
	r, err := reportspkg.Build(records, reportspkg.Params{
		From:         from,
		To:           to,
		UBS:          ubs,
		Now:          a.Now(),
		OverdueAfter: p.OverdueAfter(),
		SLATarget:    p.ResolutionTarget(),
	}, a.Evaluator())
	if err != nil {
		app.AbortStoreError(c, err)
		return reportspkg.Report{}, false
	}
	return r, true
}

// Report answers the period report for ?from=&to=&ubs=.
func Report(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in periodReq
		if err := c.ShouldBindQuery(&in); err != nil {
			app.AbortBindError(c, err)
			return
		}
		r, ok := build(c, a, in)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// Snapshot is a stored report.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSnapshot builds a report and stores it as JSON in the object store.
func CreateSnapshot(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.M == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "storage_disabled", "object storage is not configured", nil)
			return
		}
		var in periodReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBindError(c, err)
			return
		}
		r, ok := build(c, a, in)
		if !ok {
			return
		}
		b, err := json.Marshal(r)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "internal", "encode report", nil)
			return
		}
		now := a.Now()
		key := fmt.Sprintf("%s%04d/%02d/%s.json", snapshotPrefix, now.Year(), int(now.Month()), uuid.NewString())
		ctx := c.Request.Context()
		info, err := a.M.PutObject(ctx, a.Cfg.MinIOBucket, key, bytes.NewReader(b), int64(len(b)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("key", key).Msg("store report snapshot")
			app.AbortError(c, http.StatusBadGateway, "storage_error", "could not store snapshot", nil)
			return
		}
		c.JSON(http.StatusCreated, Snapshot{Key: key, Size: info.Size, CreatedAt: now})
	}
}

func snapshotKey(c *gin.Context) (string, bool) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !strings.HasPrefix(key, snapshotPrefix) || s3.ValidKey(key) != nil {
		app.AbortError(c, http.StatusBadRequest, "invalid_key", "invalid snapshot key", nil)
		return "", false
	}
	return key, true
}

// GetSnapshot redirects to a presigned URL when snapshots live in MinIO and
// streams the file otherwise.
func GetSnapshot(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := snapshotKey(c)
		if !ok {
			return
		}
		if a.M == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "storage_disabled", "object storage is not configured", nil)
			return
		}
		ctx := c.Request.Context()
		info, err := a.M.StatObject(ctx, a.Cfg.MinIOBucket, key, minio.StatObjectOptions{})
		if app.IsNotExist(err) {
			app.AbortError(c, http.StatusNotFound, "not_found", "snapshot not found", nil)
			return
		}
		if err != nil {
			app.AbortError(c, http.StatusBadGateway, "storage_error", err.Error(), nil)
			return
		}
		filename := path.Base(key)
		if a.Links != nil {
			u, err := a.Links.PresignGet(ctx, key, filename, a.Cfg.SnapshotLinkTTL)
			if err != nil {
				app.AbortError(c, http.StatusInternalServerError, "presign_failed", err.Error(), nil)
				return
			}
			c.Redirect(http.StatusFound, u)
			return
		}
		fs, ok := a.M.(*app.FsObjectStore)
		if !ok {
			app.AbortError(c, http.StatusNotImplemented, "download_unavailable", "no download path for this store", nil)
			return
		}
		rc, err := fs.Open(a.Cfg.MinIOBucket, key)
		if err != nil {
			app.AbortError(c, http.StatusNotFound, "not_found", "snapshot not found", nil)
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, info.Size, "application/json", rc,
			map[string]string{"Content-Disposition": `attachment; filename="` + filename + `"`})
	}
}

// DeleteSnapshot removes a stored report.
func DeleteSnapshot(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := snapshotKey(c)
		if !ok {
			return
		}
		if a.M == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "storage_disabled", "object storage is not configured", nil)
			return
		}
		ctx := c.Request.Context()
		if _, err := a.M.StatObject(ctx, a.Cfg.MinIOBucket, key, minio.StatObjectOptions{}); app.IsNotExist(err) {
			app.AbortError(c, http.StatusNotFound, "not_found", "snapshot not found", nil)
			return
		}
		if err := a.M.RemoveObject(ctx, a.Cfg.MinIOBucket, key, minio.RemoveObjectOptions{}); err != nil {
			app.AbortError(c, http.StatusBadGateway, "storage_error", err.Error(), nil)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
