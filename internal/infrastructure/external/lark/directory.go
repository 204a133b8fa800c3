package lark

import (
	"context"
	"fmt"
	"strings"

	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/pkg/utils"
)

const (
	userIDType = "open_id"
	// rootDepartment is the tenant root; FindByDepartment on it walks everyone
	rootDepartment = "0"
	searchPageSize = 50
)

// Directory resolves people and their leaders through the Lark contact API
type Directory struct {
	client *SDKClient
	logger *zap.Logger
}

// NewDirectory creates a directory backed by Lark contacts
func NewDirectory(client *SDKClient, logger *zap.Logger) *Directory {
	return &Directory{client: client, logger: logger}
}

// LookupByEmail implements port.Directory. Unknown emails return nil, nil.
func (d *Directory) LookupByEmail(ctx context.Context, email string) (*entity.Contact, error) {
	id, err := d.userIDByEmail(ctx, email)
	if err != nil || id == "" {
		return nil, err
	}
	return d.userByID(ctx, id)
}

// LookupManager implements port.Directory. People without a leader return nil, nil.
func (d *Directory) LookupManager(ctx context.Context, email string) (*entity.Contact, error) {
	id, err := d.userIDByEmail(ctx, email)
	if err != nil || id == "" {
		return nil, err
	}
	person, err := d.userByID(ctx, id)
	if err != nil || person == nil || person.ManagerID == "" {
		return nil, err
	}
	return d.userByID(ctx, person.ManagerID)
}

// Search implements port.Directory by paging through the root department
// and matching name or email case-insensitively.
func (d *Directory) Search(ctx context.Context, query string, limit int) ([]*entity.Contact, error) {
	if limit <= 0 {
		return []*entity.Contact{}, nil
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	contacts := make([]*entity.Contact, 0)
	pageToken := ""
	for {
		builder := larkcontact.NewFindByDepartmentUserReqBuilder().
			UserIdType(userIDType).
			DepartmentIdType("open_department_id").
			DepartmentId(rootDepartment).
			PageSize(searchPageSize)
		if pageToken != "" {
			builder.PageToken(pageToken)
		}

		resp, err := d.client.GetClient().Contact.User.FindByDepartment(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
		}
		if resp.Data == nil {
			break
		}

		for _, u := range resp.Data.Items {
			if u == nil {
				continue
			}
			contact := toContact(u)
			if needle != "" &&
				!strings.Contains(strings.ToLower(contact.Name), needle) &&
				!strings.Contains(contact.Email, needle) {
				continue
			}
			contacts = append(contacts, contact)
			if len(contacts) == limit {
				return contacts, nil
			}
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore {
			break
		}
		pageToken = deref(resp.Data.PageToken)
		if pageToken == "" {
			break
		}
	}

	d.logger.Debug("Directory search finished", zap.String("query", needle), zap.Int("matches", len(contacts)))
	return contacts, nil
}

func (d *Directory) userIDByEmail(ctx context.Context, email string) (string, error) {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return "", nil
	}

	req := larkcontact.NewBatchGetIdUserReqBuilder().
		UserIdType(userIDType).
		Body(larkcontact.NewBatchGetIdUserReqBodyBuilder().
			Emails([]string{email}).
			Build()).
		Build()

	resp, err := d.client.GetClient().Contact.User.BatchGetId(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user id: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return "", nil
	}
	for _, u := range resp.Data.UserList {
		if u != nil && u.UserId != nil && *u.UserId != "" {
			return *u.UserId, nil
		}
	}
	d.logger.Debug("Email not found in directory", zap.String("email", email))
	return "", nil
}

func (d *Directory) userByID(ctx context.Context, id string) (*entity.Contact, error) {
	req := larkcontact.NewGetUserReqBuilder().
		UserId(id).
		UserIdType(userIDType).
		Build()

	resp, err := d.client.GetClient().Contact.User.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.User == nil {
		return nil, nil
	}

	return toContact(resp.Data.User), nil
}

func toContact(u *larkcontact.User) *entity.Contact {
	return &entity.Contact{
		Email:     utils.NormalizeEmail(firstSet(u.EnterpriseEmail, u.Email)),
		Name:      deref(u.Name),
		Title:     deref(u.JobTitle),
		ManagerID: deref(u.LeaderUserId),
		MemberOf:  u.DepartmentIds,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstSet(values ...*string) string {
	for _, v := range values {
		if s := deref(v); s != "" {
			return s
		}
	}
	return ""
}
