package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func principal(r *http.Request) (middleware.Principal, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return middleware.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return p, nil
}

func actorRef(p middleware.Principal) *outbox.ActorRef {
	return &outbox.ActorRef{SubjectID: p.SubjectID, VendorID: p.VendorID, Role: string(p.Role)}
}

// pageArgs reads skip/take query parameters.
func pageArgs(r *http.Request) (query.FindManyArgs, error) {
	skip, err := validators.ParseQueryInt(r, "skip", 0, 0, 1_000_000)
	if err != nil {
		return query.FindManyArgs{}, err
	}
	take, err := validators.ParseQueryInt(r, "take", defaultPageSize, 1, maxPageSize)
	if err != nil {
		return query.FindManyArgs{}, err
	}
	return query.FindManyArgs{Skip: skip, Take: query.Take(take)}, nil
}

// searchArgs decodes a FindManyArgs body and clamps its page size.
func searchArgs(r *http.Request) (query.FindManyArgs, error) {
	var args query.FindManyArgs
	if err := validators.DecodeJSONBody(r, &args); err != nil {
		return query.FindManyArgs{}, err
	}
	if args.Skip < 0 {
		return query.FindManyArgs{}, pkgerrors.New(pkgerrors.CodeValidation, "skip must not be negative")
	}
	if args.Take == nil || *args.Take <= 0 || *args.Take > maxPageSize {
		take := defaultPageSize
		if args.Take != nil && *args.Take > maxPageSize {
			take = maxPageSize
		}
		args.Take = query.Take(take)
	}
	return args, nil
}

// scoped ANDs extra onto the caller's filter.
func scoped(where *query.Filter, extra query.Filter) *query.Filter {
	if where == nil || where.IsEmpty() {
		return extra.Ptr()
	}
	return query.And(*where, extra).Ptr()
}
