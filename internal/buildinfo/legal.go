package buildinfo

// LegalNotice provides license notices for fsnotifierd and the third-party
// dependencies it vendors at build time.
const LegalNotice = `fsnotifierd

Licensed under the terms of the MIT License.


================================================================================
fsnotifierd depends on the following third-party software:
================================================================================

Go, the Go standard library, and the golang.org/x/sys subrepository.
https://golang.org/

github.com/spf13/cobra and github.com/spf13/pflag (Apache License 2.0)
https://github.com/spf13/cobra
https://github.com/spf13/pflag

github.com/fatih/color and github.com/mattn/go-isatty (MIT License)
https://github.com/fatih/color
https://github.com/mattn/go-isatty

github.com/pkg/errors (BSD-2-Clause License)
https://github.com/pkg/errors

github.com/golang/groupcache (Apache License 2.0)
https://github.com/golang/groupcache

github.com/google/uuid (BSD-3-Clause License)
https://github.com/google/uuid

github.com/dustin/go-humanize (MIT License)
https://github.com/dustin/go-humanize

github.com/joho/godotenv (MIT License)
https://github.com/joho/godotenv
`
