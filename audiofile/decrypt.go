package audiofile

import (
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/blowfish"
)

// CipherBlockSize is the stripe length of encrypted tracks. Content is
// encrypted in 2 KiB stripes: every third stripe is Blowfish-CBC
// encrypted, the rest is plaintext. A stripe shorter than 2 KiB (the tail
// of the file) is never encrypted.
const CipherBlockSize = 2048

// stripePeriod selects which stripes are encrypted: index % 3 == 0.
const stripePeriod = 3

// cbcIV is fixed by the scheme; secrecy lives in the per-track key.
var cbcIV = [8]byte{0, 1, 2, 3, 4, 5, 6, 7}

// KeySize is the Blowfish key length used for track decryption.
const KeySize = 16

// TrackKey derives the per-track Blowfish key. The decimal track ID is
// MD5-hashed; the two hex string halves are folded together with the
// shared secret byte by byte.
func TrackKey(secret []byte, trackID int64) ([]byte, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("bad secret length %d, want %d", len(secret), KeySize)
	}
	sum := md5.Sum([]byte(strconv.FormatInt(trackID, 10)))
	hexSum := hex.EncodeToString(sum[:])

	key := make([]byte, KeySize)
	for i := 0; i < KeySize; i++ {
		key[i] = hexSum[i] ^ hexSum[i+KeySize] ^ secret[i]
	}
	return key, nil
}

// Decryptor exposes an encrypted track as a plaintext io.ReadSeeker.
// Seeks land on stripe boundaries internally; the prefix up to the
// requested offset is decrypted and discarded.
type Decryptor struct {
	src    io.ReadSeeker
	cipher *blowfish.Cipher

	block    [CipherBlockSize]byte
	blockIdx int64 // stripe index of the buffered block
	have     int   // valid bytes in block
	off      int   // read offset within block
	loaded   bool
}

// NewDecryptor wraps src with stripe decryption using the given track key.
func NewDecryptor(src io.ReadSeeker, key []byte) (*Decryptor, error) {
	bf, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init blowfish: %w", err)
	}
	return &Decryptor{src: src, cipher: bf}, nil
}

func (d *Decryptor) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if !d.loaded || d.off >= d.have {
			if err := d.loadNext(); err != nil {
				if total > 0 {
					return total, nil
				}
				return 0, err
			}
		}
		n := copy(p[total:], d.block[d.off:d.have])
		d.off += n
		total += n
	}
	return total, nil
}

// loadNext reads the next stripe from the source and decrypts it when the
// stripe index and size call for it.
func (d *Decryptor) loadNext() error {
	if d.loaded {
		d.blockIdx++
	}
	n, err := io.ReadFull(d.src, d.block[:])
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return err
	}

	// Only full stripes at the right cadence are encrypted.
	if n == CipherBlockSize && d.blockIdx%stripePeriod == 0 {
		iv := cbcIV
		cipher.NewCBCDecrypter(d.cipher, iv[:]).CryptBlocks(d.block[:], d.block[:])
	}

	d.have = n
	d.off = 0
	d.loaded = true
	return nil
}

// Seek repositions the plaintext stream. The underlying source is moved to
// the enclosing stripe boundary and the stripe is reloaded, so the next
// Read decrypts from the right place.
func (d *Decryptor) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.position() + offset
	case io.SeekEnd:
		end, err := d.src.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		abs = end + offset
	default:
		return 0, fmt.Errorf("bad whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek before start: %d", abs)
	}

	blockStart := abs / CipherBlockSize * CipherBlockSize
	if _, err := d.src.Seek(blockStart, io.SeekStart); err != nil {
		return 0, err
	}

	d.blockIdx = abs / CipherBlockSize
	d.loaded = false
	d.have = 0
	d.off = 0

	// Decrypt the stripe and discard up to the requested offset.
	if rem := int(abs % CipherBlockSize); rem > 0 {
		if err := d.loadNext(); err != nil {
			if err == io.EOF {
				return abs, nil
			}
			return 0, err
		}
		if rem > d.have {
			rem = d.have
		}
		d.off = rem
	}
	return abs, nil
}

func (d *Decryptor) position() int64 {
	if !d.loaded {
		return d.blockIdx * CipherBlockSize
	}
	return d.blockIdx*CipherBlockSize + int64(d.off)
}
