// Package gmail provides a content source for Gmail attachments.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/custodia-labs/mediasync-cli/internal/connectors/google"
	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure Source implements the interface.
var _ driven.ContentSource = (*Source)(nil)

// Type is the source type identifier for this connector.
const Type = "gmail"

// userID addresses the authenticated mailbox in all API calls.
const userID = "me"

// Source discovers image attachments in a Gmail mailbox. Each
// attachment is one candidate item; its ID is "messageID/partID",
// which stays stable across runs, unlike Gmail attachment IDs.
type Source struct {
	svc     *gmailv1.Service
	cfg     *Config
	limiter *google.RateLimiter
}

// NewSource creates a Gmail source over an authenticated service.
func NewSource(svc *gmailv1.Service, cfg *Config) *Source {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Source{
		svc:     svc,
		cfg:     cfg,
		limiter: google.NewRateLimiter(google.ServiceGmail),
	}
}

// Type returns the source type identifier.
func (s *Source) Type() string {
	return Type
}

// Capabilities returns what this source supports.
func (s *Source) Capabilities() driven.SourceCapabilities {
	return driven.SourceCapabilities{
		SupportsIncremental:  true,
		RequiresAuth:         true,
		SupportsRateLimiting: true,
	}
}

// Validate checks credentials with a lightweight profile call.
func (s *Source) Validate(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.svc.Users.GetProfile(userID).Context(ctx).Do(); err != nil {
		return google.WrapError(err)
	}
	return nil
}

// List discovers attachments on messages received after the given time.
func (s *Source) List(ctx context.Context, modifiedAfter time.Time) ([]domain.CandidateItem, error) {
	query := buildQuery(s.cfg.Query, modifiedAfter)

	var items []domain.CandidateItem
	pageToken := ""
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		call := s.svc.Users.Messages.List(userID).
			Q(query).
			MaxResults(s.cfg.MaxResults).
			IncludeSpamTrash(s.cfg.IncludeSpamTrash).
			Context(ctx)
		if len(s.cfg.LabelIDs) > 0 {
			call = call.LabelIds(s.cfg.LabelIDs...)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			if google.IsRateLimited(err) {
				s.limiter.RecordRateLimitError(google.RetryAfterSeconds(err))
			}
			return nil, google.WrapError(err)
		}

		for _, ref := range resp.Messages {
			msgItems, err := s.attachmentsOf(ctx, ref.Id)
			if err != nil {
				return nil, err
			}
			items = append(items, msgItems...)
		}

		if resp.NextPageToken == "" {
			return items, nil
		}
		pageToken = resp.NextPageToken
	}
}

// attachmentsOf fetches one message and extracts its attachment items.
func (s *Source) attachmentsOf(ctx context.Context, messageID string) ([]domain.CandidateItem, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msg, err := s.svc.Users.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		if google.IsRateLimited(err) {
			s.limiter.RecordRateLimitError(google.RetryAfterSeconds(err))
		}
		return nil, google.WrapError(err)
	}

	// Gmail reports internalDate in milliseconds
	received := time.UnixMilli(msg.InternalDate)

	var items []domain.CandidateItem
	walkParts(msg.Payload, func(part *gmailv1.MessagePart) {
		if part.Filename == "" || part.Body == nil || part.Body.AttachmentId == "" {
			return
		}
		if !s.cfg.Includes(part.MimeType) {
			return
		}
		items = append(items, domain.CandidateItem{
			ID:         itemID(messageID, part.PartId),
			Name:       part.Filename,
			ModifiedAt: received,
			SizeBytes:  part.Body.Size,
			MIMEType:   part.MimeType,
		})
	})

	return items, nil
}

// Download fetches one attachment's bytes. The part is re-resolved from
// the message because Gmail attachment IDs are not stable across calls.
func (s *Source) Download(ctx context.Context, id string) ([]byte, error) {
	messageID, partID, err := splitItemID(id)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msg, err := s.svc.Users.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, google.WrapError(err)
	}

	var attachmentID string
	walkParts(msg.Payload, func(part *gmailv1.MessagePart) {
		if part.PartId == partID && part.Body != nil {
			attachmentID = part.Body.AttachmentId
		}
	})
	if attachmentID == "" {
		return nil, fmt.Errorf("gmail: message %s has no part %s: %w", messageID, partID, domain.ErrPermanentItem)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	attachment, err := s.svc.Users.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		if google.IsRateLimited(err) {
			s.limiter.RecordRateLimitError(google.RetryAfterSeconds(err))
		}
		return nil, google.WrapError(err)
	}

	data, err := base64.URLEncoding.DecodeString(attachment.Data)
	if err != nil {
		return nil, fmt.Errorf("gmail: decode attachment %s: %w: %w", id, domain.ErrPermanentItem, err)
	}
	return data, nil
}

// VersionToken returns empty: this source tracks changes by timestamps.
func (s *Source) VersionToken() string {
	return ""
}

// Watch is not supported for Gmail.
func (s *Source) Watch(_ context.Context) (<-chan domain.CandidateItem, error) {
	return nil, fmt.Errorf("gmail: watch: %w", domain.ErrUnsupportedType)
}

// Close releases resources.
func (s *Source) Close() error {
	return nil
}

// buildQuery combines the configured query, the attachment requirement
// and the incremental floor into one Gmail search expression.
func buildQuery(base string, modifiedAfter time.Time) string {
	parts := []string{"has:attachment"}
	if base != "" {
		parts = append(parts, base)
	}
	if !modifiedAfter.IsZero() {
		// Gmail's after: operator accepts a unix timestamp and is
		// inclusive at second granularity.
		parts = append(parts, fmt.Sprintf("after:%d", modifiedAfter.Unix()))
	}
	return strings.Join(parts, " ")
}

// walkParts visits every part in a message's MIME tree.
func walkParts(part *gmailv1.MessagePart, fn func(*gmailv1.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, child := range part.Parts {
		walkParts(child, fn)
	}
}

// itemID builds the stable "messageID/partID" item identifier.
func itemID(messageID, partID string) string {
	return messageID + "/" + partID
}

// splitItemID parses a "messageID/partID" item identifier.
func splitItemID(id string) (messageID, partID string, err error) {
	i := strings.Index(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("gmail: malformed item id %q: %w", id, domain.ErrPermanentItem)
	}
	return id[:i], id[i+1:], nil
}
