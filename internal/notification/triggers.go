package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"peaceseal.io/herald/internal/domain"
	"peaceseal.io/herald/internal/pkg/logger"
)

// Broadcaster fans a payload out to a role. *Dispatcher implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, role string, payload CreateInput) (BroadcastResult, error)
}

// Triggers turns platform domain events into notifications:
//  1. COMMENT_POSTED: notify the solution author
//  2. COMMENT_REPLIED: notify the parent comment's author
//  3. SOLUTION_LIKED: notify the solution author
//  4. CONTENT_REPORTED: broadcast to moderators and above
//  5. PEACE_SEAL_STATUS_CHANGED: notify the applicant
//
// Nobody is notified about their own action.
type Triggers struct {
	creator     Creator
	broadcaster Broadcaster
}

// NewTriggers creates the trigger set.
func NewTriggers(creator Creator, broadcaster Broadcaster) *Triggers {
	return &Triggers{creator: creator, broadcaster: broadcaster}
}

// Register subscribes every trigger on d.
func (t *Triggers) Register(d *domain.EventDispatcher) {
	d.Register(domain.EventCommentPosted, t.onCommentPosted)
	d.Register(domain.EventCommentReplied, t.onCommentReplied)
	d.Register(domain.EventSolutionLiked, t.onSolutionLiked)
	d.Register(domain.EventContentReported, t.onContentReported)
	d.Register(domain.EventPeaceSealStatusChanged, t.onPeaceSealStatusChanged)
}

func (t *Triggers) onCommentPosted(ctx context.Context, event *domain.DomainEvent) error {
	p, err := domain.DecodePayload[domain.CommentPostedPayload](event)
	if err != nil {
		return err
	}
	return t.notifyUser(ctx, event, p.SolutionAuthorID, p.AuthorID, CreateInput{
		Type:  TypeComment,
		Title: fmt.Sprintf("%s commented on your solution", displayName(p.AuthorName)),
		Body:  p.Excerpt,
		Meta: map[string]any{
			"slug":       p.CampaignSlug,
			"solutionId": p.SolutionID,
			"commentId":  p.CommentID,
		},
		ResourceType: "comment",
		ResourceID:   p.CommentID,
	})
}

func (t *Triggers) onCommentReplied(ctx context.Context, event *domain.DomainEvent) error {
	p, err := domain.DecodePayload[domain.CommentRepliedPayload](event)
	if err != nil {
		return err
	}
	return t.notifyUser(ctx, event, p.ParentAuthorID, p.AuthorID, CreateInput{
		Type:  TypeCommentReply,
		Title: fmt.Sprintf("%s replied to your comment", displayName(p.AuthorName)),
		Body:  p.Excerpt,
		Meta: map[string]any{
			"slug":       p.CampaignSlug,
			"solutionId": p.SolutionID,
			"commentId":  p.CommentID,
		},
		ResourceType: "comment",
		ResourceID:   p.CommentID,
	})
}

func (t *Triggers) onSolutionLiked(ctx context.Context, event *domain.DomainEvent) error {
	p, err := domain.DecodePayload[domain.SolutionLikedPayload](event)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s liked your solution", displayName(p.LikerName))
	if p.SolutionTitle != "" {
		title = fmt.Sprintf("%s liked %q", displayName(p.LikerName), p.SolutionTitle)
	}
	return t.notifyUser(ctx, event, p.SolutionAuthorID, p.LikerID, CreateInput{
		Type:         TypeLike,
		Title:        title,
		Meta:         map[string]any{"slug": p.CampaignSlug, "solutionId": p.SolutionID},
		ResourceType: "solution",
		ResourceID:   p.SolutionID,
		Priority:     PriorityLow,
	})
}

func (t *Triggers) onContentReported(ctx context.Context, event *domain.DomainEvent) error {
	p, err := domain.DecodePayload[domain.ContentReportedPayload](event)
	if err != nil {
		return err
	}
	in := CreateInput{
		Type:         TypeModeration,
		Title:        fmt.Sprintf("New %s report awaiting review", p.ContentType),
		Body:         p.Reason,
		Href:         "/admin/moderation",
		ActorID:      p.ReporterID,
		ResourceType: p.ContentType,
		ResourceID:   p.ContentID,
		Priority:     PriorityHigh,
	}

	res, err := t.broadcaster.Broadcast(ctx, RoleModerator, in)
	if err != nil {
		return fmt.Errorf("broadcast report %s: %w", p.ContentID, err)
	}
	logger.From(ctx).Info("moderation report broadcast",
		zap.String("event_id", event.EventID),
		zap.String("content_id", p.ContentID),
		zap.Int("recipients", res.Recipients),
		zap.Int("delivered", res.Delivered),
	)
	return res.Err
}

func (t *Triggers) onPeaceSealStatusChanged(ctx context.Context, event *domain.DomainEvent) error {
	p, err := domain.DecodePayload[domain.PeaceSealStatusChangedPayload](event)
	if err != nil {
		return err
	}
	return t.notifyUser(ctx, event, p.ApplicantID, p.ChangedBy, CreateInput{
		Type:         TypePeaceSeal,
		Title:        fmt.Sprintf("Peace Seal application for %s is now %s", p.Organization, p.Status),
		Body:         p.Note,
		Href:         "/peace-seal/applications/" + p.ApplicationID,
		ResourceType: "peace_seal_application",
		ResourceID:   p.ApplicationID,
		Priority:     PriorityHigh,
	})
}

// notifyUser writes in for recipient unless the recipient is the actor or
// missing.
func (t *Triggers) notifyUser(ctx context.Context, event *domain.DomainEvent, recipient, actor string, in CreateInput) error {
	log := logger.From(ctx).With(
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
	)
	if recipient == "" {
		log.Warn("event has no recipient; skipping notification")
		return nil
	}
	if recipient == actor {
		log.Debug("skipping self notification", zap.String("user_id", recipient))
		return nil
	}

	in.UserID = recipient
	in.ActorID = actor
	if _, err := t.creator.Create(ctx, in); err != nil {
		return fmt.Errorf("notify %s: %w", recipient, err)
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}
