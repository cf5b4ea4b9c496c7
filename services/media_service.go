package services

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

var ErrMediaDisabled = errors.New("media uploads are not configured")

// UploadSignature lets a client upload message media straight to Cloudinary.
type UploadSignature struct {
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	APIKey    string `json:"api_key"`
	CloudName string `json:"cloud_name"`
	Folder    string `json:"folder"`
}

type MediaSigner struct {
	cld    *cloudinary.Cloudinary
	folder string
	clock  Clock
}

// NewMediaSigner returns nil, nil when cloudinaryURL is empty.
func NewMediaSigner(cloudinaryURL, folder string, clock Clock) (*MediaSigner, error) {
	if cloudinaryURL == "" {
		return nil, nil
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &MediaSigner{cld: cld, folder: folder, clock: clock}, nil
}

func (m *MediaSigner) SignUpload() (*UploadSignature, error) {
	if m == nil {
		return nil, ErrMediaDisabled
	}
	params, err := api.StructToParams(uploader.UploadParams{Folder: m.folder})
	if err != nil {
		return nil, fmt.Errorf("prepare signature params: %w", err)
	}
	ts := m.clock.Now().Unix()
	params.Set("timestamp", strconv.FormatInt(ts, 10))

	sig, err := api.SignParameters(params, m.cld.Config.Cloud.APISecret)
	if err != nil {
		return nil, fmt.Errorf("sign upload params: %w", err)
	}
	return &UploadSignature{
		Signature: sig,
		Timestamp: ts,
		APIKey:    m.cld.Config.Cloud.APIKey,
		CloudName: m.cld.Config.Cloud.CloudName,
		Folder:    m.folder,
	}, nil
}
