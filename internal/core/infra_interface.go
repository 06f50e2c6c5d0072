package core

import (
	"context"
	"errors"

	"github.com/markdave123-py/Groundwise/internal/models"
)

// DbClient defines all persistence operations your services will need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]models.ChatSession, error)

	AddMessage(ctx context.Context, message *models.ChatMessage) error
	GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error)

	InsertMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error
	SearchMessages(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.MessageMatch, error)

	Close() error
}

// ErrObjectNotFound is returned by ObjectClient.GetFile when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// DocumentExtractor turns an uploaded file into plain text.
// The contentType hint helps the extractor choose the right parsing strategy.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}
