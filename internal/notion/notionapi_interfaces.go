package notion

import (
	"context"

	"github.com/jomei/notionapi"
)

// Narrow views of the notionapi services, limited to the calls this package
// makes. The adapter converts the library's wider interfaces down to these,
// and the generated mocks implement them for tests.
type (
	PageService interface {
		Create(context.Context, *notionapi.PageCreateRequest) (*notionapi.Page, error)
		Update(context.Context, notionapi.PageID, *notionapi.PageUpdateRequest) (*notionapi.Page, error)
		Get(context.Context, notionapi.PageID) (*notionapi.Page, error)
	}

	SearchService interface {
		Do(context.Context, *notionapi.SearchRequest) (*notionapi.SearchResponse, error)
	}

	BlockService interface {
		AppendChildren(context.Context, notionapi.BlockID, *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error)
	}

	DatabaseService interface {
		Create(context.Context, *notionapi.DatabaseCreateRequest) (*notionapi.Database, error)
		Query(context.Context, notionapi.DatabaseID, *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	}
)
