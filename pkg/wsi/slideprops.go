package wsi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	PropertyAppMag         = "aperio.AppMag"
	PropertyMPP            = "aperio.MPP"
	PropertyVendor         = "openslide.vendor"
	PropertyObjectivePower = "openslide.objective-power"
	PropertyMPPX           = "openslide.mpp-x"
	PropertyMPPY           = "openslide.mpp-y"
	PropertyComment        = "openslide.comment"
)

// Properties holds vendor key-value pairs describing a slide.
type Properties map[string]string

func (p Properties) GetString(key string) string {
	return p[key]
}

func (p Properties) GetFloat(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// GetInt parses an integer property. Integral floats such as "20.0" are
// accepted since some scanners write AppMag that way.
func (p Properties) GetInt(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)
	if i, err := strconv.Atoi(v); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// SidecarPath returns the properties file consulted next to a slide.
func SidecarPath(slidePath string) string {
	return slidePath + ".properties.yaml"
}

// ReadSlideProperties collects the vendor properties of a slide file from
// its TIFF ImageDescription and an optional YAML sidecar. Sidecar values
// take precedence.
func ReadSlideProperties(slidePath string) (Properties, error) {
	props := Properties{}

	desc, err := readTIFFDescription(slidePath)
	if err != nil && !errors.Is(err, errNotTIFF) {
		return nil, fmt.Errorf("reading TIFF description: %w", err)
	}
	for k, v := range parseAperioDescription(desc) {
		props[k] = v
	}

	sidecar, err := readSidecar(SidecarPath(slidePath))
	if err != nil {
		return nil, err
	}
	for k, v := range sidecar {
		props[k] = v
	}
	return props, nil
}

func readSidecar(path string) (Properties, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing sidecar %s: %w", path, err)
	}
	props := make(Properties, len(raw))
	for k, v := range raw {
		props[k] = fmt.Sprint(v)
	}
	return props, nil
}

// parseAperioDescription splits an Aperio ImageDescription of the form
// "Aperio Image Library v10.0.50\r\n46000x32914 ... |AppMag = 20|MPP = 0.499"
// into namespaced properties.
func parseAperioDescription(desc string) Properties {
	props := Properties{}
	if !strings.HasPrefix(desc, "Aperio") {
		return props
	}
	fields := strings.Split(desc, "|")
	props[PropertyVendor] = "aperio"
	props[PropertyComment] = strings.TrimSpace(fields[0])
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		props["aperio."+key] = strings.TrimSpace(value)
	}
	if v, ok := props[PropertyAppMag]; ok {
		props[PropertyObjectivePower] = v
	}
	if v, ok := props[PropertyMPP]; ok {
		props[PropertyMPPX] = v
		props[PropertyMPPY] = v
	}
	return props
}

var errNotTIFF = errors.New("not a TIFF file")

const (
	tiffTagImageDescription = 270
	tiffTypeASCII           = 2
)

// readTIFFDescription returns the ImageDescription of the first IFD.
func readTIFFDescription(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening slide: %w", err)
	}
	defer f.Close()
	return readTIFFDescriptionFrom(f)
}

func readTIFFDescriptionFrom(r io.ReadSeeker) (string, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", errNotTIFF
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return "", errNotTIFF
	}
	if order.Uint16(header[2:4]) != 42 {
		// BigTIFF (43) is not handled here; rely on the sidecar.
		return "", errNotTIFF
	}
	ifdOffset := int64(order.Uint32(header[4:8]))

	if _, err := r.Seek(ifdOffset, io.SeekStart); err != nil {
		return "", fmt.Errorf("seeking IFD: %w", err)
	}
	countBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		return "", fmt.Errorf("reading IFD entry count: %w", err)
	}
	numEntries := int(order.Uint16(countBuf))

	entry := make([]byte, 12)
	for i := 0; i < numEntries; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return "", fmt.Errorf("reading IFD entry: %w", err)
		}
		if order.Uint16(entry[0:2]) != tiffTagImageDescription || order.Uint16(entry[2:4]) != tiffTypeASCII {
			continue
		}
		count := order.Uint32(entry[4:8])
		var value []byte
		if count <= 4 {
			value = entry[8 : 8+count]
		} else {
			value = make([]byte, count)
			if _, err := r.Seek(int64(order.Uint32(entry[8:12])), io.SeekStart); err != nil {
				return "", fmt.Errorf("seeking description: %w", err)
			}
			if _, err := io.ReadFull(r, value); err != nil {
				return "", fmt.Errorf("reading description: %w", err)
			}
		}
		return strings.TrimRight(string(value), "\x00"), nil
	}
	return "", nil
}
