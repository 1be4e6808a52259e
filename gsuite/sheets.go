package gsuite

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"
)

// AppendRow appends one row to the configured spreadsheet.
func (c *Client) AppendRow(ctx context.Context, values []interface{}) error {
	body := &sheets.ValueRange{
		Values: [][]interface{}{values},
	}
	_, err := c.sheets.Spreadsheets.Values.
		Append(c.spreadsheetID, c.sheetRange, body).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to %s: %w", c.spreadsheetID, err)
	}
	return nil
}
