package torrentfile

import (
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"
	"github.com/rtrss/worker/services/errs"
)

const (
	announceKey     = "announce"
	announceListKey = "announce-list"
	infoKey         = "info"
)

// File is a decoded torrent. Top-level values are kept as raw bencode so
// that re-encoding never alters the info dictionary.
type File struct {
	raw  map[string]bencode.Bytes
	info metainfo.Info
}

func Decode(data []byte) (*File, error) {
	raw := map[string]bencode.Bytes{}
	if err := bencode.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(errs.Unprocessable, err, "failed to decode torrent file")
	}
	ib, ok := raw[infoKey]
	if !ok {
		return nil, errs.New(errs.Unprocessable, "torrent file has no info dictionary")
	}
	f := &File{raw: raw}
	if err := bencode.Unmarshal(ib, &f.info); err != nil {
		return nil, errs.Wrap(errs.Unprocessable, err, "failed to decode info dictionary")
	}
	return f, nil
}

// Infohash returns lowercase hex SHA-1 of the bencoded info dictionary.
func (s *File) Infohash() string {
	return metainfo.HashBytes(s.raw[infoKey]).HexString()
}

// Size returns the payload size: single-file length or sum of file lengths.
func (s *File) Size() int64 {
	return s.info.TotalLength()
}

func (s *File) Name() string {
	return s.info.Name
}

func (s *File) Announces() []string {
	var res []string
	if a := s.announce(); a != "" {
		res = append(res, a)
	}
	for _, tier := range s.announceList() {
		res = append(res, tier...)
	}
	return res
}

func (s *File) announce() string {
	b, ok := s.raw[announceKey]
	if !ok {
		return ""
	}
	var a string
	if err := bencode.Unmarshal(b, &a); err != nil {
		return ""
	}
	return a
}

func (s *File) announceList() [][]string {
	b, ok := s.raw[announceListKey]
	if !ok {
		return nil
	}
	var al [][]string
	if err := bencode.Unmarshal(b, &al); err != nil {
		return nil
	}
	return al
}

// RemovePasskeys drops every announce URL carrying the given query
// parameter. Tiers left empty are removed. Returns the number of URLs
// dropped.
func (s *File) RemovePasskeys(param string) (int, error) {
	removed := 0
	if a := s.announce(); a != "" && hasParam(a, param) {
		delete(s.raw, announceKey)
		removed++
	}
	al := s.announceList()
	if al == nil {
		return removed, nil
	}
	var tiers [][]string
	for _, tier := range al {
		var kept []string
		for _, u := range tier {
			if hasParam(u, param) {
				removed++
				continue
			}
			kept = append(kept, u)
		}
		if len(kept) > 0 {
			tiers = append(tiers, kept)
		}
	}
	if len(tiers) == 0 {
		delete(s.raw, announceListKey)
		return removed, nil
	}
	b, err := bencode.Marshal(tiers)
	if err != nil {
		return removed, errors.Wrap(err, "failed to encode announce list")
	}
	s.raw[announceListKey] = b
	return removed, nil
}

func hasParam(u string, param string) bool {
	pu, err := url.Parse(u)
	if err != nil {
		return strings.Contains(u, "?"+param+"=") || strings.Contains(u, "&"+param+"=")
	}
	return pu.Query().Has(param)
}

func (s *File) Encode() ([]byte, error) {
	b, err := bencode.Marshal(s.raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode torrent file")
	}
	return b, nil
}
