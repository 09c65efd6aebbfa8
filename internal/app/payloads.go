package app

import (
	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/store"
)

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"name":      u.Name,
		"image":     u.Image,
		"createdAt": u.CreatedAt,
	}
}

func teamPayload(t store.Team) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"ownerId":     t.OwnerID,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

func memberPayload(m store.TeamMember) map[string]any {
	return map[string]any{
		"id":       m.ID,
		"userId":   m.UserID,
		"teamId":   m.TeamID,
		"role":     m.Role,
		"joinedAt": m.JoinedAt,
		"user": map[string]any{
			"id":    m.UserID,
			"name":  m.UserName,
			"email": m.UserEmail,
			"image": m.UserImage,
		},
	}
}

func invitationPayload(inv store.Invitation) map[string]any {
	return map[string]any{
		"id":         inv.ID,
		"email":      inv.Email,
		"role":       inv.Role,
		"teamId":     inv.TeamID,
		"teamName":   inv.TeamName,
		"senderId":   inv.SenderID,
		"senderName": inv.SenderName,
		"status":     inv.Status,
		"expiresAt":  inv.ExpiresAt,
		"createdAt":  inv.CreatedAt,
	}
}

func manualPayload(m store.Manual, permission rbac.Permission) map[string]any {
	out := map[string]any{
		"id":          m.ID,
		"title":       m.Title,
		"description": m.Description,
		"ownerId":     m.OwnerID,
		"ownerName":   m.OwnerName,
		"teamId":      m.TeamID,
		"createdAt":   m.CreatedAt,
		"updatedAt":   m.UpdatedAt,
	}
	if permission != "" {
		out["permission"] = permission
	}
	return out
}

func sectionPayload(sec store.Section) map[string]any {
	return map[string]any{
		"id":       sec.ID,
		"manualId": sec.ManualID,
		"parentId": sec.ParentID,
		"title":    sec.Title,
		"order":    sec.Order,
		"depth":    sec.Depth,
	}
}

func blockPayload(b store.Block) map[string]any {
	return map[string]any{
		"id":        b.ID,
		"sectionId": b.SectionID,
		"type":      b.Type,
		"content":   b.Content,
		"order":     b.Order,
		"updatedAt": b.UpdatedAt,
	}
}

func sharePayload(sh store.Share) map[string]any {
	return map[string]any{
		"id":         sh.ID,
		"manualId":   sh.ManualID,
		"userId":     sh.UserID,
		"permission": sh.Permission,
		"createdAt":  sh.CreatedAt,
		"user": map[string]any{
			"id":    sh.UserID,
			"name":  sh.UserName,
			"email": sh.UserEmail,
		},
	}
}

func linkPayload(l store.ExternalLink) map[string]any {
	return map[string]any{
		"id":         l.ID,
		"manualId":   l.ManualID,
		"token":      l.Token,
		"accessType": l.AccessType,
		"isActive":   l.IsActive,
		"expiresAt":  l.ExpiresAt,
		"createdBy":  l.CreatedBy,
		"createdAt":  l.CreatedAt,
	}
}

func versionPayload(v store.Version) map[string]any {
	return map[string]any{
		"id":       v.ID,
		"manualId": v.ManualID,
		"summary":  v.Summary,
		"creator": map[string]any{
			"id":   v.CreatorID,
			"name": v.CreatorName,
		},
		"createdAt": v.CreatedAt,
	}
}

func notificationPayload(n store.Notification) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"relatedId": n.RelatedID,
		"isRead":    n.IsRead,
		"createdAt": n.CreatedAt,
	}
}
