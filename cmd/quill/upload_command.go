package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/blob"
	"quill/internal/store"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var coverFor string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a provisional resource, optionally claiming it as an artifact cover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			info, err := os.Stat(src)
			if err != nil {
				return fmt.Errorf("stat upload: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", src)
			}
			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(src)))
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				if coverFor != "" {
					if _, err := a.Entities.GetArtifact(runCtx, coverFor); err != nil {
						return err
					}
				}
				lifetime := ttl
				if lifetime <= 0 {
					lifetime = a.Config.ProvisionalTTL()
				}
				key := blob.UploadKey(uuid.NewString(), filepath.Base(src))
				obj, err := blob.PutFile(runCtx, a.Blobs, key, src, contentType)
				if err != nil {
					return err
				}
				res, err := a.Entities.CreateProvisional(runCtx, obj.Key, contentType, info.Size(), lifetime)
				if err != nil {
					_ = a.Blobs.Delete(runCtx, obj.Key)
					return err
				}
				if coverFor != "" {
					if res, err = a.Entities.CommitProvisional(runCtx, res.ID, "artifact", coverFor); err != nil {
						return err
					}
					if err := a.Entities.SetCover(runCtx, coverFor, res.ID); err != nil {
						return err
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"id":           res.ID,
						"storage_key":  res.StorageKey,
						"url":          obj.URL,
						"status":       res.Status,
						"content_type": res.ContentType,
						"size_bytes":   res.SizeBytes,
						"expires_at":   formatTime(res.ExpiresAt),
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Resource %s stored at %s\n", res.ID, obj.URL)
				if res.Status == store.ResourceCommitted {
					fmt.Fprintf(out, "Attached as cover of %s\n", coverFor)
				} else {
					fmt.Fprintf(out, "Expires %s unless claimed\n", formatTime(res.ExpiresAt))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&coverFor, "cover-for", "", "Claim the upload as the cover of this artifact")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Override the provisional lifetime")
	return cmd
}
