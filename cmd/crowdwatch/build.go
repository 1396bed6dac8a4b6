package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/crowdwatch/internal/classifier"
	"github.com/thebtf/crowdwatch/internal/config"
	"github.com/thebtf/crowdwatch/internal/db/gorm"
	"github.com/thebtf/crowdwatch/internal/notify"
	"github.com/thebtf/crowdwatch/internal/objstore"
)

// openStore builds the object store selected by StoreBackend.
func openStore(ctx context.Context, c *config.Config) (objstore.Store, error) {
	switch strings.ToLower(c.StoreBackend) {
	case config.StoreMemory:
		log.Warn().Msg("Using in-memory store, sessions are lost on exit")
		return objstore.NewMemory(), nil
	case config.StoreSQLite, "":
		db, err := gorm.NewStore(gorm.Config{
			Driver:   gorm.DriverSQLite,
			Path:     c.DBPath,
			MaxConns: c.MaxConns,
			LogLevel: logger.Silent,
		})
		if err != nil {
			return nil, err
		}
		return gorm.NewBlobStore(db), nil
	case config.StorePostgres:
		db, err := gorm.NewStore(gorm.Config{
			Driver:   gorm.DriverPostgres,
			DSN:      c.PostgresDSN,
			MaxConns: c.MaxConns,
			LogLevel: logger.Silent,
		})
		if err != nil {
			return nil, err
		}
		return gorm.NewBlobStore(db), nil
	case config.StoreRedis:
		return objstore.NewRedis(objstore.RedisConfig{
			Addr:      c.RedisAddr,
			Password:  c.RedisPassword,
			DB:        c.RedisDB,
			KeyPrefix: c.RedisPrefix,
		})
	case config.StoreS3:
		return objstore.NewS3(ctx, objstore.S3Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			Endpoint:     c.S3Endpoint,
			UsePathStyle: c.S3PathStyle,
			Prefix:       c.S3Prefix,
		})
	case config.StoreCOS:
		return objstore.NewCOS(objstore.COSConfig{
			BucketURL: c.COSBucketURL,
			SecretID:  c.COSSecretID,
			SecretKey: c.COSSecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
}

// openInference builds the vision model backend selected by InferenceBackend.
func openInference(ctx context.Context, c *config.Config) (classifier.Inference, error) {
	switch strings.ToLower(c.InferenceBackend) {
	case config.InferenceHTTP, "":
		url := c.InferenceURL
		if url == "" {
			url = config.DefaultInferenceURL
		}
		return classifier.NewHTTPInference(url, &http.Client{}), nil
	case config.InferenceGemini:
		return classifier.NewGeminiInference(ctx, classifier.GeminiConfig{
			APIKey: c.InferenceAPIKey,
			Model:  c.InferenceModel,
		})
	case config.InferenceOpenAI:
		return classifier.NewOpenAIInference(classifier.OpenAIConfig{
			APIKey:  c.InferenceAPIKey,
			BaseURL: c.InferenceBaseURL,
			Model:   c.InferenceModel,
		})
	default:
		return nil, fmt.Errorf("unknown inference backend %q", c.InferenceBackend)
	}
}

// buildNotifier combines every configured channel. With nothing configured
// alerts go to the log.
func buildNotifier(c *config.Config) (notify.Notifier, error) {
	var channels notify.Multi

	if c.SMTPHost != "" {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUser,
			Password: c.SMTPPassword,
			From:     c.AlertFrom,
			To:       c.AlertRecipients,
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		channels = append(channels, email)
	}

	if c.WebhookURL != "" {
		hook, err := notify.NewWebhookNotifier(c.WebhookURL, nil, &http.Client{
			Timeout: time.Duration(c.NotifyTimeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook notifier: %w", err)
		}
		channels = append(channels, hook)
	}

	switch len(channels) {
	case 0:
		log.Warn().Msg("No notification channel configured, alerts will only be logged")
		return notify.NewLogNotifier(), nil
	case 1:
		return channels[0], nil
	default:
		return channels, nil
	}
}
