// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import (
	"encoding/hex"
	"reflect"
	"time"

	"go.mozilla.org/pkcs7"
)

// Module signature verification: an optional 'Sign' chunk carries a
// detached PKCS7 SignedData structure over the module's bytes, letting a
// code server confirm a module's publisher before loading it. No chunk
// in the original file format spec names this; it supplements §4.9 the
// way security.go's Authenticode verification supplements a PE's pure
// structural layout with an out-of-band trust check. Grounded on
// security.go's parseSecurityDirectory: parse the PKCS7 envelope, pick
// the signing certificate out of the embedded chain by matching serial
// number, and report a compact SignerInfo rather than the raw ASN.1
// structures.

// SignerInfo summarizes the certificate that signed a module, mirroring
// security.go's CertInfo.
type SignerInfo struct {
	SerialNumber       string
	Issuer             string
	Subject            string
	PublicKeyAlgorithm string
	SignatureAlgorithm string
	NotBefore          string
	NotAfter           string
}

// VerifySignature parses signPayload as a detached PKCS7 SignedData
// envelope and verifies it against signedContent — the concatenated
// payloads of the module's required chunks in file order (the signature
// cannot cover the whole container, which includes the 'Sign' chunk
// itself). It returns the signer's SignerInfo on success, or an error the
// caller is expected to translate into AnoUnverifiableSignature rather
// than a hard load failure.
func VerifySignature(signedContent, signPayload []byte) (*SignerInfo, error) {
	p7, err := pkcs7.Parse(signPayload)
	if err != nil {
		return nil, err
	}
	p7.Content = signedContent
	if err := p7.Verify(); err != nil {
		return nil, err
	}

	info := &SignerInfo{}
	if len(p7.Signers) == 0 {
		return info, nil
	}
	serial := p7.Signers[0].IssuerAndSerialNumber.SerialNumber
	for _, cert := range p7.Certificates {
		if !reflect.DeepEqual(cert.SerialNumber, serial) {
			continue
		}
		info.SerialNumber = hex.EncodeToString(cert.SerialNumber.Bytes())
		info.PublicKeyAlgorithm = cert.PublicKeyAlgorithm.String()
		info.SignatureAlgorithm = cert.SignatureAlgorithm.String()
		info.Subject = cert.Subject.CommonName
		info.Issuer = cert.Issuer.CommonName
		info.NotBefore = cert.NotBefore.Format(time.RFC3339)
		info.NotAfter = cert.NotAfter.Format(time.RFC3339)
		break
	}
	return info, nil
}
