package feed

import (
	"fmt"
	"strings"
	"time"
)

// Upstream query parameter names.
const (
	ParamDirectoryID = "item.directoryId"
	ParamTagID       = "tags.id"
	ParamLocale      = "item.locale"
	ParamSize        = "size"
	ParamPage        = "page"
	ParamSortBy      = "sort_by"
	ParamSortOrder   = "sort_order"
)

// SortFieldPublished orders items by their upstream publication timestamp.
const SortFieldPublished = "item.additionalFields.postDateTime"

// Partition is one feed subdivision, mirrored as a unit of work.
type Partition struct {
	DirectoryID string `yaml:"directory_id"`
	TagID       string `yaml:"tag_id"`
}

// String returns "directory/tag", or just the directory when TagID is empty.
func (p Partition) String() string {
	if p.TagID == "" {
		return p.DirectoryID
	}
	return p.DirectoryID + "/" + p.TagID
}

// YearPartitions returns one partition per year in [first, last], newest first.
// Tag ids follow the upstream "<directory>#year#<yyyy>" convention.
func YearPartitions(directoryID string, first, last int) []Partition {
	if last < first {
		return nil
	}
	partitions := make([]Partition, 0, last-first+1)
	for year := last; year >= first; year-- {
		partitions = append(partitions, Partition{
			DirectoryID: directoryID,
			TagID:       fmt.Sprintf("%s#year#%d", directoryID, year),
		})
	}
	return partitions
}

// SortOrder is the field and direction pages are ordered by.
type SortOrder struct {
	Field      string
	Descending bool
}

// Direction returns the upstream sort_order value.
func (s SortOrder) Direction() string {
	if s.Descending {
		return "desc"
	}
	return "asc"
}

// PublishedDesc keeps pagination windows stable within one planning call.
var PublishedDesc = SortOrder{Field: SortFieldPublished, Descending: true}

// PageDescriptor identifies one fetchable slice of a partition.
type PageDescriptor struct {
	Partition Partition
	Size      int
	Index     int
	Sort      SortOrder
}

// Offset returns the index of the first item covered by the page.
func (d PageDescriptor) Offset() int {
	return d.Index * d.Size
}

// Window returns the half-open item range [start, end) covered by the page
// for a partition holding total items.
func (d PageDescriptor) Window(total int) (start, end int) {
	start = d.Offset()
	end = start + d.Size
	if end > total {
		end = total
	}
	if start > end {
		start = end
	}
	return start, end
}

// Tag is an upstream tag reference.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AdditionalFields holds the upstream item payload.
type AdditionalFields struct {
	Headline     string `json:"headline"`
	PostBody     string `json:"postBody"`
	HeadlineURL  string `json:"headlineUrl"`
	PostDateTime string `json:"postDateTime"`
}

// RawItem is the item object as the upstream sends it.
type RawItem struct {
	ID               string           `json:"id"`
	AdditionalFields AdditionalFields `json:"additionalFields"`
}

// Entry is one element of the upstream items array.
type Entry struct {
	Item RawItem `json:"item"`
	Tags []Tag   `json:"tags"`
}

// Metadata is the upstream result metadata.
type Metadata struct {
	Count     int `json:"count"`
	TotalHits int `json:"totalHits"`
}

// Response is the decoded upstream payload.
type Response struct {
	Metadata Metadata `json:"metadata"`
	Items    []Entry  `json:"items"`
}

// Item is a decoded news item ready to be persisted.
type Item struct {
	SourceID    string
	Title       string
	Body        string
	SourceURL   string
	PublishedAt *time.Time
}

// ToItem converts the raw upstream item. An absent or unparsable
// postDateTime yields a nil PublishedAt.
func (e Entry) ToItem() Item {
	fields := e.Item.AdditionalFields
	item := Item{
		SourceID:  e.Item.ID,
		Title:     fields.Headline,
		Body:      fields.PostBody,
		SourceURL: fields.HeadlineURL,
	}
	if ts := strings.TrimSpace(fields.PostDateTime); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			item.PublishedAt = &parsed
		}
	}
	return item
}

// TagNames returns the tag names in upstream order.
func (e Entry) TagNames() []string {
	names := make([]string, 0, len(e.Tags))
	for _, tag := range e.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// Page is the decoded result of one page fetch.
type Page struct {
	Descriptor PageDescriptor
	Metadata   Metadata
	Entries    []Entry
}
