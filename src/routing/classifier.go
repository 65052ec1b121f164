package routing

import (
	"path"
	"strings"

	"go.lsp.dev/uri"
)

// ContentCategory is a coarse classification of payload type used to bias routing.
type ContentCategory string

const (
	CategoryGeneric   ContentCategory = "generic"
	CategoryDocument  ContentCategory = "document"
	CategoryImage     ContentCategory = "image"
	CategoryVideo     ContentCategory = "video"
	CategoryAudio     ContentCategory = "audio"
	CategoryCode      ContentCategory = "code"
	CategoryDataset   ContentCategory = "dataset"
	CategoryModel     ContentCategory = "model"
	CategoryContainer ContentCategory = "container"
	CategoryArchive   ContentCategory = "archive"
	CategoryEncrypted ContentCategory = "encrypted"
	CategorySmallFile ContentCategory = "small_file"
	CategoryMedia     ContentCategory = "media"
)

var allCategories = []ContentCategory{
	CategoryGeneric, CategoryDocument, CategoryImage, CategoryVideo, CategoryAudio,
	CategoryCode, CategoryDataset, CategoryModel, CategoryContainer, CategoryArchive,
	CategoryEncrypted, CategorySmallFile, CategoryMedia,
}

// AllCategories returns every content category in declaration order.
func AllCategories() []ContentCategory {
	out := make([]ContentCategory, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory accepts a category name in any case. The second return is
// false for names that are not part of the closed set.
func ParseCategory(name string) (ContentCategory, bool) {
	normalized := ContentCategory(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range allCategories {
		if c == normalized {
			return c, true
		}
	}
	return "", false
}

// SmallFileThreshold is the payload size below which otherwise generic
// content is classified as a small file.
const SmallFileThreshold = 4 * 1024

// ContentInfo describes the content a routing decision is made for.
type ContentInfo struct {
	ContentType     string            `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Filename        string            `json:"filename,omitempty" yaml:"filename,omitempty"`
	ContentCategory ContentCategory   `json:"content_category,omitempty" yaml:"content_category,omitempty"`
	SizeBytes       int64             `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	RoutingKey      string            `json:"routing_key,omitempty" yaml:"routing_key,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

var extensionCategories = map[string]ContentCategory{
	// images
	".jpg": CategoryImage, ".jpeg": CategoryImage, ".png": CategoryImage, ".gif": CategoryImage,
	".bmp": CategoryImage, ".webp": CategoryImage, ".svg": CategoryImage, ".tiff": CategoryImage,
	".tif": CategoryImage, ".ico": CategoryImage, ".heic": CategoryImage,
	// video
	".mp4": CategoryVideo, ".avi": CategoryVideo, ".mkv": CategoryVideo, ".mov": CategoryVideo,
	".webm": CategoryVideo, ".flv": CategoryVideo, ".wmv": CategoryVideo, ".m4v": CategoryVideo,
	// audio
	".mp3": CategoryAudio, ".wav": CategoryAudio, ".flac": CategoryAudio, ".aac": CategoryAudio,
	".ogg": CategoryAudio, ".m4a": CategoryAudio, ".opus": CategoryAudio,
	// documents
	".pdf": CategoryDocument, ".doc": CategoryDocument, ".docx": CategoryDocument, ".odt": CategoryDocument,
	".rtf": CategoryDocument, ".txt": CategoryDocument, ".md": CategoryDocument, ".xls": CategoryDocument,
	".xlsx": CategoryDocument, ".ppt": CategoryDocument, ".pptx": CategoryDocument, ".epub": CategoryDocument,
	// code
	".go": CategoryCode, ".py": CategoryCode, ".js": CategoryCode, ".ts": CategoryCode,
	".java": CategoryCode, ".c": CategoryCode, ".cpp": CategoryCode, ".h": CategoryCode,
	".rs": CategoryCode, ".rb": CategoryCode, ".php": CategoryCode, ".sh": CategoryCode,
	".css": CategoryCode, ".html": CategoryCode, ".xml": CategoryCode, ".json": CategoryCode,
	".yaml": CategoryCode, ".yml": CategoryCode, ".toml": CategoryCode, ".sql": CategoryCode,
	".cs": CategoryCode, ".kt": CategoryCode, ".swift": CategoryCode,
	// datasets
	".csv": CategoryDataset, ".tsv": CategoryDataset, ".parquet": CategoryDataset, ".arrow": CategoryDataset,
	".feather": CategoryDataset, ".hdf5": CategoryDataset, ".h5": CategoryDataset, ".jsonl": CategoryDataset,
	".ndjson": CategoryDataset, ".avro": CategoryDataset, ".orc": CategoryDataset,
	// models
	".pt": CategoryModel, ".pth": CategoryModel, ".onnx": CategoryModel, ".safetensors": CategoryModel,
	".ckpt": CategoryModel, ".pb": CategoryModel, ".tflite": CategoryModel, ".gguf": CategoryModel,
	".pkl": CategoryModel, ".mlmodel": CategoryModel,
	// containers
	".sif": CategoryContainer, ".oci": CategoryContainer, ".qcow2": CategoryContainer,
	".vmdk": CategoryContainer, ".iso": CategoryContainer,
	// archives
	".zip": CategoryArchive, ".tar": CategoryArchive, ".gz": CategoryArchive, ".tgz": CategoryArchive,
	".bz2": CategoryArchive, ".xz": CategoryArchive, ".7z": CategoryArchive, ".rar": CategoryArchive,
	".zst": CategoryArchive, ".car": CategoryArchive,
	// encrypted
	".gpg": CategoryEncrypted, ".pgp": CategoryEncrypted, ".asc": CategoryEncrypted,
	".enc": CategoryEncrypted, ".age": CategoryEncrypted,
}

// Classify maps content metadata onto a ContentCategory. It is pure and performs no I/O.
//
// Precedence: an explicit, known category; then the MIME type; then the filename
// extension; otherwise generic.
func Classify(info ContentInfo) ContentCategory {
	if info.ContentCategory != "" {
		if category, ok := ParseCategory(string(info.ContentCategory)); ok {
			return category
		}
	}

	if info.ContentType != "" {
		if category := classifyMIME(info.ContentType); category != CategoryGeneric {
			return category
		}
	}

	if info.Filename != "" {
		if category, ok := extensionCategories[filenameExtension(info.Filename)]; ok {
			return category
		}
	}

	return CategoryGeneric
}

// ClassifyWithSize behaves like Classify but reports small payloads of otherwise
// generic content as small files.
func ClassifyWithSize(info ContentInfo) ContentCategory {
	category := Classify(info)
	if category == CategoryGeneric && info.SizeBytes > 0 && info.SizeBytes < SmallFileThreshold {
		return CategorySmallFile
	}
	return category
}

func classifyMIME(contentType string) ContentCategory {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}

	switch {
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mime, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(mime, "text/"):
		if containsAny(mime, "javascript", "css", "html", "xml", "json") {
			return CategoryCode
		}
		return CategoryDocument
	case strings.HasPrefix(mime, "application/"):
		switch {
		case containsAny(mime, "pdf", "msword", "openxml", "rtf"):
			return CategoryDocument
		case containsAny(mime, "zip", "tar", "gzip", "7z", "rar", "bzip"):
			return CategoryArchive
		case containsAny(mime, "docker", "container"):
			return CategoryContainer
		case containsAny(mime, "java", "python", "javascript", "json", "xml"):
			return CategoryCode
		case containsAny(mime, "pgp", "pkcs", "encrypted"):
			return CategoryEncrypted
		}
	}
	return CategoryGeneric
}

// filenameExtension returns the lower-cased extension of a plain filename,
// a file:// URI, or any other URI-shaped name.
func filenameExtension(name string) string {
	if strings.HasPrefix(name, "file://") {
		name = fileURIPath(name)
	}
	if idx := strings.IndexAny(name, "?#"); idx >= 0 {
		name = name[:idx]
	}
	return strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
}

func fileURIPath(raw string) (p string) {
	parsed, err := uri.Parse(raw)
	if err != nil {
		return strings.TrimPrefix(raw, "file://")
	}
	defer func() {
		// Filename panics on URIs it cannot map to a path.
		if recover() != nil {
			p = strings.TrimPrefix(raw, "file://")
		}
	}()
	return parsed.Filename()
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
