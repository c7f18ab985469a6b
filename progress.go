package fetchkit

import "io"

// progressReader reports cumulative bytes read to fn.
type progressReader struct {
	r     io.Reader
	fn    ProgressFunc
	total int64
	n     int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.fn(p.n, p.total)
	}
	return n, err
}

type progressReadCloser struct {
	progressReader
	c io.Closer
}

func (p *progressReadCloser) Close() error {
	return p.c.Close()
}

func withUploadProgress(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil || r == nil {
		return r
	}
	return &progressReader{r: r, fn: fn, total: total}
}

func withDownloadProgress(rc io.ReadCloser, total int64, fn ProgressFunc) io.ReadCloser {
	if fn == nil || rc == nil {
		return rc
	}
	return &progressReadCloser{progressReader: progressReader{r: rc, fn: fn, total: total}, c: rc}
}
