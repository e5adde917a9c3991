package utils

import "github.com/mahirjain10/go-resizer/internal/types"

const pattern = "status"

func InitStatusData(id string, userId string, status string, publicUrl string, errorMsg string) *types.StatusData {
	return &types.StatusData{ID: id, UserID: userId, Status: status, PublicURL: publicUrl, ErrorMsg: errorMsg}
}

// WithAsset records which derived asset a status refers to and the tier it came from.
func WithAsset(data *types.StatusData, rec types.AssetRecord) *types.StatusData {
	data.Key = rec.Key
	data.Provenance = string(rec.Provenance)
	return data
}

func InitStatusMessage(data *types.StatusData) *types.StatusMessage {
	return &types.StatusMessage{Pattern: pattern, Data: *data}
}
