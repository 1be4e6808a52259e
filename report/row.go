package report

import (
	"time"
)

// reportedLayout mirrors the timestamp format the spreadsheet consumers expect.
const reportedLayout = "02/01/2006 15:04"

// BuildRow assembles the ordered spreadsheet row for a packaged report:
// category, report id, reported-at timestamp, the required field values in
// configured order, the attachment count, and finally the folder link. The
// folder link is always the last column.
func BuildRow(category, reportID string, reportedAt time.Time, fields map[string]string, required []string, photoCount int, folderLink string) []interface{} {
	row := make([]interface{}, 0, len(required)+5)
	row = append(row, category, reportID, reportedAt.Format(reportedLayout))
	for _, name := range required {
		row = append(row, fields[name])
	}
	row = append(row, photoCount, folderLink)
	return row
}
